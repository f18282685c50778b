package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault/pkg/core"
)

// sessionView is what gets printed about a session. The private key never is.
type sessionView struct {
	Key        string           `json:"key,omitempty"`
	User       common.Address   `json:"user"`
	Contracts  []common.Address `json:"contracts"`
	PublicKey  string           `json:"publicKey"`
	ValidFrom  time.Time        `json:"validFrom"`
	ValidUntil time.Time        `json:"validUntil"`
	Expired    bool             `json:"expired"`
}

func viewSession(key string, s core.DecryptionSession, now time.Time) sessionView {
	return sessionView{
		Key:        key,
		User:       s.User,
		Contracts:  s.Contracts,
		PublicKey:  s.PublicKey.String(),
		ValidFrom:  time.Unix(s.ValidFrom, 0).UTC(),
		ValidUntil: time.Unix(s.ValidUntil(), 0).UTC(),
		Expired:    !s.ValidAt(now.Unix()),
	}
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage cached decryption sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the session of the active identity, signing a new one if needed",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		s, err := rt.Service.Session(ctx)
		if err != nil {
			fatal("Failed to get session", err)
		}
		v := viewSession("", s, time.Now())
		printResult(v, func() {
			fmt.Printf("user:        %s\n", v.User.Hex())
			fmt.Printf("contracts:   %v\n", v.Contracts)
			fmt.Printf("public key:  %s\n", v.PublicKey)
			fmt.Printf("valid until: %s\n", v.ValidUntil.Format(time.RFC3339))
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached sessions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		keys, err := rt.Store.Keys(ctx)
		if err != nil {
			fatal("Failed to list sessions", err)
		}
		now := time.Now()
		views := make([]sessionView, 0, len(keys))
		for _, k := range keys {
			s, err := rt.Store.Get(ctx, k)
			if err != nil {
				continue
			}
			views = append(views, viewSession(k, s, now))
		}

		printResult(views, func() {
			for _, v := range views {
				state := "valid"
				if v.Expired {
					state = "expired"
				}
				fmt.Printf("%s  %s  until %s\n", v.User.Hex(), state, v.ValidUntil.Format(time.RFC3339))
			}
		})
	},
}

var sessionInvalidateCmd = &cobra.Command{
	Use:   "invalidate [address]",
	Short: "Drop the cached sessions of an identity (default: the active one)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		var user common.Address
		if len(args) == 1 {
			user = parseAddress(args[0])
		}
		n, err := rt.Service.InvalidateSessions(ctx, user)
		if err != nil {
			fatal("Failed to invalidate sessions", err)
		}
		printResult(map[string]int{"removed": n}, func() {
			fmt.Printf("removed %d session(s)\n", n)
		})
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd, sessionListCmd, sessionInvalidateCmd)
	rootCmd.AddCommand(sessionCmd)
}
