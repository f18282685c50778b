package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aretw0/scriptvault"
	"github.com/aretw0/scriptvault/pkg/core"
)

// openRuntime loads the configuration and wires the service, or exits.
func openRuntime(ctx context.Context, opts ...scriptvault.Option) *scriptvault.Runtime {
	cfg, err := scriptvault.LoadConfig(configPath)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	opts = append([]scriptvault.Option{
		scriptvault.WithLogger(slog.Default()),
		scriptvault.WithStatus(printStatus),
		scriptvault.WithApprover(confirmSignature),
	}, opts...)
	rt, err := scriptvault.Open(ctx, cfg, opts...)
	if err != nil {
		fatal("Failed to initialize scriptvault", err)
	}
	return rt
}

// printStatus writes phase updates to stderr so stdout stays machine readable.
func printStatus(s core.Status) {
	fmt.Fprintf(os.Stderr, "... %s\n", s)
}

// confirmSignature is the wallet prompt shown before a typed-data signature.
func confirmSignature(_ context.Context, signer common.Address, data apitypes.TypedData) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(os.Stderr, "Sign %s as %s for %s? [y/N] ", data.PrimaryType, signer.Hex(), data.Domain.Name)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// printResult writes v as JSON with --json, otherwise calls text.
func printResult(v any, text func()) {
	if !jsonOutput {
		text()
		return
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fatal("Failed to encode JSON", err)
	}
}

func parseID(kind, s string) uint64 {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		fatal("Invalid "+kind, fmt.Errorf("%q is not a positive integer", s))
	}
	return id
}

func parseAddress(s string) common.Address {
	if !common.IsHexAddress(s) {
		fatal("Invalid address", fmt.Errorf("%q is not a hex address", s))
	}
	return common.HexToAddress(s)
}
