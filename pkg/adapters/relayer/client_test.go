package relayer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

var (
	registry = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// echoRelayer opens sealed inputs with its own key and hands the plaintexts back as
// "handles", which is enough to check both directions of the sealing.
func echoRelayer(t *testing.T) *httptest.Server {
	t.Helper()
	pub, priv, err := userdecrypt.GenerateKeypair()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get(PathKeys, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(KeysResponse{PublicKey: pub, ChainID: 31337, VerifyingContract: registry})
	})
	r.Post(PathInputProof, func(w http.ResponseWriter, req *http.Request) {
		var in InputProofRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := InputProofResponse{InputProof: hexutil.Bytes{0xaa}}
		for _, v := range in.Values {
			plain, err := userdecrypt.OpenValue(v.Sealed, pub, priv)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			out.Handles = append(out.Handles, common.BigToHash(new(big.Int).SetUint64(plain)))
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	r.Post(PathUserDecrypt, func(w http.ResponseWriter, req *http.Request) {
		var in UserDecryptRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := UserDecryptResponse{Values: map[common.Hash]hexutil.Bytes{}}
		for _, p := range in.HandleContractPairs {
			sealed, err := userdecrypt.SealValue(p.Handle.Big().Uint64(), in.PublicKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			out.Values[p.Handle] = sealed
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_EncryptAndDecryptRoundTrip(t *testing.T) {
	srv := echoRelayer(t)
	c, err := New(Config{URL: srv.URL + "/"})
	require.NoError(t, err)
	ctx := context.Background()

	in, err := c.Encrypt(ctx, core.EncryptRequest{Contract: registry, Sender: alice, Values: []core.Scalar{core.Uint32(3)}})
	require.NoError(t, err)
	require.Len(t, in.Handles, 1)
	assert.Equal(t, []byte{0xaa}, in.Proof)

	kp, err := c.GenerateKeypair()
	require.NoError(t, err)
	values, err := c.UserDecrypt(ctx, core.UserDecryptRequest{
		Pairs:   []core.HandleContract{{Handle: in.Handles[0], Contract: registry}},
		Keypair: kp,
		User:    alice,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, values[in.Handles[0]])
}

func TestClient_AuthorizationMessageUsesRelayerDomain(t *testing.T) {
	srv := echoRelayer(t)
	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	msg, err := c.AuthorizationMessage(context.Background(), make([]byte, 32), []common.Address{registry}, 100, 365)
	require.NoError(t, err)
	assert.Equal(t, userdecrypt.PrimaryType, msg.PrimaryType)
	assert.Equal(t, registry.Hex(), msg.Domain.VerifyingContract)
	assert.Equal(t, "365", msg.Message["durationDays"])
}

func TestClient_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, core.ErrInvalidInput},
		{http.StatusForbidden, core.ErrNotAuthorized},
		{http.StatusNotFound, core.ErrHandleNotFound},
		{http.StatusBadGateway, core.ErrEncryptionUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "nope"})
			}))
			defer srv.Close()

			c, err := New(Config{URL: srv.URL})
			require.NoError(t, err)
			_, err = c.UserDecrypt(context.Background(), core.UserDecryptRequest{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{URL: url})
	require.NoError(t, err)
	_, err = c.Encrypt(context.Background(), core.EncryptRequest{Contract: registry, Sender: alice, Values: []core.Scalar{core.Uint32(1)}})
	assert.ErrorIs(t, err, core.ErrEncryptionUnavailable)
}
