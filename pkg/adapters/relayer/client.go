// Package relayer is the HTTP client of the confidential-compute relayer. Inputs are
// sealed to the relayer key before leaving the process and decrypted values come back
// sealed to the session key, so plaintexts never cross the wire in the clear.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

// DefaultTimeout bounds a single relayer request.
const DefaultTimeout = 30 * time.Second

// Config holds the relayer client configuration.
type Config struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements core.Compute over the relayer HTTP API.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	keys *KeysResponse
}

// New creates a relayer client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("relayer url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}, nil
}

// Keys returns the relayer's public configuration. A successful reply is cached.
func (c *Client) Keys(ctx context.Context) (KeysResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys != nil {
		return *c.keys, nil
	}
	var k KeysResponse
	if err := c.do(ctx, http.MethodGet, PathKeys, nil, &k); err != nil {
		return KeysResponse{}, err
	}
	if len(k.PublicKey) != userdecrypt.KeySize {
		return KeysResponse{}, fmt.Errorf("%w: relayer returned a %d-byte key", core.ErrEncryptionUnavailable, len(k.PublicKey))
	}
	c.keys = &k
	return k, nil
}

func (c *Client) Encrypt(ctx context.Context, req core.EncryptRequest) (core.EncryptedInput, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return core.EncryptedInput{}, err
	}
	body := InputProofRequest{
		ContractAddress: req.Contract,
		UserAddress:     req.Sender,
		Values:          make([]SealedValue, len(req.Values)),
	}
	for i, v := range req.Values {
		sealed, err := userdecrypt.SealValue(v.Value, keys.PublicKey)
		if err != nil {
			return core.EncryptedInput{}, fmt.Errorf("%w: seal input: %w", core.ErrEncryptionUnavailable, err)
		}
		body.Values[i] = SealedValue{Bits: v.Bits, Sealed: sealed}
	}

	var resp InputProofResponse
	if err := c.do(ctx, http.MethodPost, PathInputProof, body, &resp); err != nil {
		return core.EncryptedInput{}, err
	}
	if len(resp.Handles) != len(req.Values) {
		return core.EncryptedInput{}, fmt.Errorf("%w: got %d handles for %d values", core.ErrEncryptionUnavailable, len(resp.Handles), len(req.Values))
	}
	return core.EncryptedInput{Handles: resp.Handles, Proof: resp.InputProof}, nil
}

func (c *Client) GenerateKeypair() (core.Keypair, error) {
	pub, priv, err := userdecrypt.GenerateKeypair()
	if err != nil {
		return core.Keypair{}, err
	}
	return core.Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

func (c *Client) AuthorizationMessage(ctx context.Context, publicKey []byte, contracts []common.Address, validFrom int64, durationDays int) (apitypes.TypedData, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	domain := userdecrypt.DefaultDomain(keys.ChainID, keys.VerifyingContract)
	return userdecrypt.TypedData(domain, publicKey, contracts, validFrom, durationDays), nil
}

func (c *Client) UserDecrypt(ctx context.Context, req core.UserDecryptRequest) (map[core.Handle]uint64, error) {
	body := UserDecryptRequest{
		HandleContractPairs: make([]HandleContractPair, len(req.Pairs)),
		PublicKey:           req.Keypair.PublicKey,
		Signature:           req.Signature,
		ContractAddresses:   req.Contracts,
		UserAddress:         req.User,
		StartTimestamp:      req.ValidFrom,
		DurationDays:        req.DurationDays,
	}
	for i, p := range req.Pairs {
		body.HandleContractPairs[i] = HandleContractPair{Handle: p.Handle, ContractAddress: p.Contract}
	}

	var resp UserDecryptResponse
	if err := c.do(ctx, http.MethodPost, PathUserDecrypt, body, &resp); err != nil {
		return nil, err
	}
	out := make(map[core.Handle]uint64, len(resp.Values))
	for h, sealed := range resp.Values {
		v, err := userdecrypt.OpenValue(sealed, req.Keypair.PublicKey, req.Keypair.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: open value for %s: %w", core.ErrNotAuthorized, h, err)
		}
		out[h] = v
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrEncryptionUnavailable, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", core.ErrEncryptionUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("relayer request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s reply: %w", core.ErrEncryptionUnavailable, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var e ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
	msg := e.Error
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrInvalidInput, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", core.ErrNotAuthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrHandleNotFound, msg)
	default:
		return fmt.Errorf("%w: relayer replied %s", core.ErrEncryptionUnavailable, msg)
	}
}

var _ core.Compute = (*Client)(nil)
