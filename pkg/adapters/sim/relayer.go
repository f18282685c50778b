package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/scriptvault/pkg/adapters/relayer"
	"github.com/aretw0/scriptvault/pkg/core"
	"github.com/aretw0/scriptvault/pkg/userdecrypt"
)

const secondsPerDay = 86400

// Handler serves the relayer HTTP API over the network's ciphertexts and ACL.
func (n *Network) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(relayer.PathKeys, n.handleKeys)
	r.Post(relayer.PathInputProof, n.handleInputProof)
	r.Post(relayer.PathUserDecrypt, n.handleUserDecrypt)
	return r
}

func (n *Network) handleKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, relayer.KeysResponse{
		PublicKey:         n.relayerPub,
		ChainID:           n.chainID,
		VerifyingContract: n.verifier,
	})
}

func (n *Network) handleInputProof(w http.ResponseWriter, r *http.Request) {
	var req relayer.InputProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request: %w", err))
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no values"))
		return
	}

	plains := make([]uint64, len(req.Values))
	for i, v := range req.Values {
		if v.Bits != 8 && v.Bits != 16 && v.Bits != 32 && v.Bits != 64 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported width %d", v.Bits))
			return
		}
		plain, err := userdecrypt.OpenValue(v.Sealed, n.relayerPub, n.relayerPriv)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if v.Bits < 64 && plain >= 1<<v.Bits {
			writeError(w, http.StatusBadRequest, fmt.Errorf("value does not fit in %d bits", v.Bits))
			return
		}
		plains[i] = plain
	}

	n.mu.Lock()
	handles := make([]common.Hash, len(plains))
	for i, plain := range plains {
		h := n.newHandle(req.ContractAddress, req.UserAddress)
		n.ciphertexts[h] = ciphertext{
			value:    plain,
			bits:     req.Values[i].Bits,
			contract: req.ContractAddress,
			sender:   req.UserAddress,
		}
		handles[i] = h
	}
	n.mu.Unlock()

	writeJSON(w, http.StatusOK, relayer.InputProofResponse{
		Handles:    handles,
		InputProof: inputProof(req.ContractAddress, req.UserAddress, handles),
	})
}

// handleUserDecrypt re-validates the whole authorization server side: the signature, the
// session window, the contract set and the ACL, including grant expiry.
func (n *Network) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req relayer.UserDecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request: %w", err))
		return
	}
	if len(req.PublicKey) != userdecrypt.KeySize || req.DurationDays <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("malformed session"))
		return
	}

	domain := userdecrypt.DefaultDomain(n.chainID, n.verifier)
	msg := userdecrypt.TypedData(domain, req.PublicKey, req.ContractAddresses, req.StartTimestamp, req.DurationDays)
	if err := userdecrypt.Verify(msg, req.Signature, req.UserAddress); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	now := n.unix()
	if now < req.StartTimestamp || now >= req.StartTimestamp+int64(req.DurationDays)*secondsPerDay {
		writeError(w, http.StatusForbidden, errors.New("session outside its validity window"))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	out := relayer.UserDecryptResponse{Values: make(map[common.Hash]hexutil.Bytes, len(req.HandleContractPairs))}
	for _, p := range req.HandleContractPairs {
		if !slices.Contains(req.ContractAddresses, p.ContractAddress) {
			writeError(w, http.StatusForbidden, fmt.Errorf("contract %s not in session", p.ContractAddress))
			return
		}
		ct, ok := n.ciphertexts[p.Handle]
		if !ok || ct.contract != p.ContractAddress {
			writeError(w, http.StatusNotFound, fmt.Errorf("no ciphertext at %s", p.Handle))
			return
		}
		if err := n.mayDecrypt(p.Handle, req.UserAddress, now); err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
		sealed, err := userdecrypt.SealValue(ct.value, req.PublicKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out.Values[p.Handle] = sealed
	}
	writeJSON(w, http.StatusOK, out)
}

// mayDecrypt checks the ACL and, for grant scopes, that the grant still holds this handle
// and has not expired. Caller holds mu.
func (n *Network) mayDecrypt(h core.Handle, user common.Address, now int64) error {
	if !n.acl[h][user] {
		return fmt.Errorf("%s may not decrypt %s", user, h)
	}
	key, ok := n.scopeGrant[h]
	if !ok || key.licensee != user {
		return nil
	}
	g := n.grants[key]
	if g.EncryptedScope != h {
		return errors.New("grant was replaced")
	}
	if expired(g, now) {
		return errors.New("grant expired")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, relayer.ErrorResponse{Error: err.Error()})
}
