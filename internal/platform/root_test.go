package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
}

func TestFindRoot(t *testing.T) {
	// base/
	//   project/        scriptvault.yaml
	//     scripts/
	//       act1/       draft.txt
	//     vendored/     scriptvault.yaml
	//   store-only/     .scriptvault/
	//     deep/
	//   bare/
	base := t.TempDir()
	project := filepath.Join(base, "project")
	act1 := filepath.Join(project, "scripts", "act1")
	vendored := filepath.Join(project, "vendored")
	storeOnly := filepath.Join(base, "store-only")
	deep := filepath.Join(storeOnly, "deep")
	bare := filepath.Join(base, "bare")

	mkdirs(t, act1, vendored, filepath.Join(storeOnly, DefaultStoreDir), deep, bare)
	require.NoError(t, os.WriteFile(filepath.Join(project, ConfigFile), []byte("network: localhost\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vendored, ConfigFile), []byte("network: sepolia\n"), 0o644))
	draft := filepath.Join(act1, "draft.txt")
	require.NoError(t, os.WriteFile(draft, []byte("INT. MUSEUM - NIGHT"), 0o644))

	tests := []struct {
		name  string
		start string
		want  string
	}{
		{"config file at start", project, project},
		{"config file two levels up", act1, project},
		{"start is a file", draft, project},
		{"nearest config wins", vendored, vendored},
		{"store directory marks a root", deep, storeOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindRoot(tt.start)
			require.NoError(t, err)
			assert.Equal(t, filepath.Clean(tt.want), filepath.Clean(got))
		})
	}

	t.Run("no marker anywhere", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(filepath.Dir(base), ConfigFile)); err == nil {
			t.Skip("temp dir sits under a scriptvault project")
		}
		_, err := FindRoot(bare)
		assert.ErrorIs(t, err, ErrRootNotFound)
	})
}

func TestLoadConfigFindsNearestFile(t *testing.T) {
	base := t.TempDir()
	sub := filepath.Join(base, "scripts")
	mkdirs(t, sub)
	require.NoError(t, os.WriteFile(filepath.Join(base, ConfigFile),
		[]byte("network: localhost\naddresses:\n  localhost: \"0x00000000000000000000000000000000000000aa\"\n"), 0o644))

	t.Chdir(sub)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Network)
}
