package platform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/scriptvault/pkg/core"
)

const (
	sepoliaRegistry   = "0x1111111111111111111111111111111111111111"
	localhostRegistry = "0x2222222222222222222222222222222222222222"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
network: localhost
addresses:
  localhost: `+localhostRegistry+`
ledger:
  rpc_url: http://127.0.0.1:8545
  confirm_timeout: 45s
relayer:
  url: http://127.0.0.1:8600
store:
  adapter: sqlite
  path: cache
session:
  duration_days: 7
reactor:
  works: [3, 5]
`)
	t.Setenv("SCRIPTVAULT_RELAYER_URL", "http://relayer.internal")
	t.Setenv("SCRIPTVAULT_SESSION_DAYS", "30")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Network)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, 45*time.Second, cfg.Ledger.ConfirmTimeout)
	assert.Equal(t, "http://relayer.internal", cfg.Relayer.URL, "environment overrides the file")
	assert.Equal(t, 30, cfg.Session.DurationDays)
	assert.Equal(t, "sqlite", cfg.Store.Adapter)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.StorePath(), "relative paths resolve against the file")
	assert.Equal(t, []uint64{3, 5}, cfg.Reactor.Works)
	assert.EqualValues(t, core.DefaultScopeLevel, cfg.Reactor.Scope, "unset fields keep defaults")

	id, err := cfg.ChainID()
	require.NoError(t, err)
	assert.EqualValues(t, 31337, id)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "network: sepolia\n")

	t.Setenv("SCRIPTVAULT_CONFIRM_TIMEOUT", "soon")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "SCRIPTVAULT_CONFIRM_TIMEOUT")
}

func TestLoadConfig_UnknownAdapter(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "store:\n  adapter: redis\n")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestLoadConfig_ZeroReactorScope(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "reactor:\n  scope: 0\n")
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRegistryAddress_Fallback(t *testing.T) {
	tests := []struct {
		name      string
		network   string
		addresses map[string]string
		contract  string
		want      string
		wantErr   bool
	}{
		{
			name:      "Selected Network",
			network:   "localhost",
			addresses: map[string]string{"sepolia": sepoliaRegistry, "localhost": localhostRegistry},
			want:      localhostRegistry,
		},
		{
			name:      "Unknown Network Falls Back To Sepolia",
			network:   "holesky",
			addresses: map[string]string{"sepolia": sepoliaRegistry, "localhost": localhostRegistry},
			want:      sepoliaRegistry,
		},
		{
			name:      "Then Localhost",
			network:   "holesky",
			addresses: map[string]string{"localhost": localhostRegistry},
			want:      localhostRegistry,
		},
		{
			name:      "Explicit Contract Wins",
			network:   "sepolia",
			addresses: map[string]string{"sepolia": sepoliaRegistry},
			contract:  localhostRegistry,
			want:      localhostRegistry,
		},
		{
			name:      "Nothing Deployed",
			network:   "sepolia",
			addresses: map[string]string{},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Network = tt.network
			cfg.Addresses = tt.addresses
			cfg.Ledger.Contract = tt.contract

			got, err := cfg.RegistryAddress()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(tt.want), got)
		})
	}
}

func TestRegistryAddress_DeployScriptFile(t *testing.T) {
	dir := t.TempDir()
	// Shape written by the deploy script.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "addresses.json"),
		[]byte(`{"sepolia": "`+sepoliaRegistry+`"}`), 0o644))
	path := writeConfig(t, dir, "network: sepolia\naddresses_file: addresses.json\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	got, err := cfg.RegistryAddress()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(sepoliaRegistry), got)
}

func TestChainID_UnknownNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "mainnet-fork"
	_, err := cfg.ChainID()
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	cfg.Ledger.ChainID = 1
	id, err := cfg.ChainID()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}

func TestWalletKeys(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv(DefaultKeyEnv, " aa , ,bb")
	assert.Equal(t, []string{"aa", "bb"}, cfg.WalletKeys())
}

func TestParseWorkIDs(t *testing.T) {
	ids, err := ParseWorkIDs([]string{"1", " 7 "})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 7}, ids)

	_, err = ParseWorkIDs([]string{"0"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = ParseWorkIDs([]string{"x"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = ParseWorkIDs(nil)
	assert.Error(t, err)
}
