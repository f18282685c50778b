package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var scopeCmd = &cobra.Command{
	Use:   "scope <work>",
	Short: "Decrypt the access scope the active identity holds on a work",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workID := parseID("work id", args[0])
		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		scope, err := rt.Service.ReadScope(ctx, workID)
		if err != nil {
			fatal("Failed to read scope", err)
		}
		printResult(map[string]uint64{"work": workID, "scope": scope}, func() {
			fmt.Printf("work %d: scope %d\n", workID, scope)
		})
	},
}

func init() {
	rootCmd.AddCommand(scopeCmd)
}
