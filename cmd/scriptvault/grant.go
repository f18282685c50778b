package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault/pkg/core"
)

var (
	grantScope  uint64
	grantExpiry string
)

var grantCmd = &cobra.Command{
	Use:   "grant <work> <licensee>",
	Short: "Grant a licensee an encrypted access scope on a work",
	Long: `Grant a licensee an encrypted access scope on a work.

Only the author of the work may grant. The scope is encrypted before it is submitted,
so it never appears on the ledger in plaintext.

--expiry accepts a duration from now (720h), an RFC 3339 time or a unix timestamp.
Without it the grant never expires.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		workID := parseID("work id", args[0])
		licensee := parseAddress(args[1])
		expiry, err := parseExpiry(grantExpiry, time.Now())
		if err != nil {
			fatal("Invalid expiry", err)
		}

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		r, err := rt.Service.GrantAccess(ctx, workID, licensee, expiry, grantScope)
		if err != nil {
			fatal("Failed to grant access", err)
		}
		printResult(r, func() {
			fmt.Printf("granted scope %d on work %d to %s (tx %s)\n", grantScope, workID, licensee.Hex(), r.TxHash.Hex())
		})
	},
}

// parseExpiry turns the --expiry flag into unix seconds. Empty means never.
func parseExpiry(s string, now time.Time) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("%w: expiry must be in the future", core.ErrInvalidInput)
		}
		return now.Add(d).Unix(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: cannot parse expiry %q", core.ErrInvalidInput, s)
}

func init() {
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().Uint64Var(&grantScope, "scope", core.DefaultScopeLevel, "Access scope level to grant")
	grantCmd.Flags().StringVar(&grantExpiry, "expiry", "", "When the grant expires (duration, RFC 3339 or unix seconds)")
}
