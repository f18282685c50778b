package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/scriptvault"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of scriptvault",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scriptvault version %s\n", strings.TrimSpace(scriptvault.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
