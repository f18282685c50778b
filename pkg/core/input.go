package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// InputBuilder turns plaintext scalars into ciphertext handles plus a validity proof
// bound to a (contract, sender) pair. It holds no state.
type InputBuilder struct {
	compute Compute
	logger  *slog.Logger
}

// NewInputBuilder creates an InputBuilder over the given compute service.
func NewInputBuilder(compute Compute, opts ...Option) *InputBuilder {
	o := buildOptions(opts)
	return &InputBuilder{compute: compute, logger: o.logger}
}

// Build encrypts values for contract on behalf of sender.
// Values that do not fit their declared width fail with ErrInvalidInput before any service call.
func (b *InputBuilder) Build(ctx context.Context, contract, sender common.Address, values ...Scalar) (EncryptedInput, error) {
	if contract == (common.Address{}) {
		return EncryptedInput{}, fmt.Errorf("%w: contract address is zero", ErrInvalidInput)
	}
	if sender == (common.Address{}) {
		return EncryptedInput{}, fmt.Errorf("%w: sender address is zero", ErrInvalidInput)
	}
	if len(values) == 0 {
		return EncryptedInput{}, fmt.Errorf("%w: no values", ErrInvalidInput)
	}
	for i, v := range values {
		if err := checkWidth(v); err != nil {
			return EncryptedInput{}, fmt.Errorf("value %d: %w", i, err)
		}
	}

	b.logger.Debug("encrypting input", "contract", contract, "sender", sender, "count", len(values))

	out, err := b.compute.Encrypt(ctx, EncryptRequest{Contract: contract, Sender: sender, Values: values})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEncryptionUnavailable) || ctx.Err() != nil {
			return EncryptedInput{}, err
		}
		return EncryptedInput{}, fmt.Errorf("%w: %w", ErrEncryptionUnavailable, err)
	}
	if len(out.Handles) != len(values) {
		return EncryptedInput{}, fmt.Errorf("%w: expected %d handles, got %d", ErrEncryptionUnavailable, len(values), len(out.Handles))
	}
	return out, nil
}

// EncryptScope encrypts a single 32-bit access scope.
func (b *InputBuilder) EncryptScope(ctx context.Context, contract, sender common.Address, scope uint64) (Handle, []byte, error) {
	out, err := b.Build(ctx, contract, sender, Uint32(scope))
	if err != nil {
		return Handle{}, nil, err
	}
	return out.Handles[0], out.Proof, nil
}

func checkWidth(v Scalar) error {
	switch v.Bits {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%w: unsupported width %d", ErrInvalidInput, v.Bits)
	}
	if v.Bits < 64 && v.Value>>uint(v.Bits) != 0 {
		return fmt.Errorf("%w: value does not fit in %d bits", ErrInvalidInput, v.Bits)
	}
	return nil
}
