package sim

import (
	"crypto/ecdsa"
	"math/big"
	"net/http/httptest"

	"github.com/aretw0/scriptvault/pkg/adapters/eth"
	"github.com/aretw0/scriptvault/pkg/adapters/relayer"
)

// Stack is a simulated network whose relayer is served over loopback HTTP, so clients
// exercise the same wire protocol as against a deployed relayer.
type Stack struct {
	Network *Network
	Server  *httptest.Server
	Compute *relayer.Client
}

// Start creates a network and serves its relayer.
func Start(opts Options) (*Stack, error) {
	n, err := New(opts)
	if err != nil {
		return nil, err
	}
	srv := httptest.NewServer(n.Handler())
	c, err := relayer.New(relayer.Config{URL: srv.URL, Logger: n.logger})
	if err != nil {
		srv.Close()
		return nil, err
	}
	return &Stack{Network: n, Server: srv, Compute: c}, nil
}

// Wallet returns a local wallet on the simulated chain holding keys.
func (s *Stack) Wallet(keys ...*ecdsa.PrivateKey) *eth.LocalWallet {
	return eth.NewLocalWallet(new(big.Int).SetUint64(s.Network.ChainID()), keys...)
}

// Close stops the relayer server.
func (s *Stack) Close() {
	s.Server.Close()
}
