package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault/pkg/core"
)

var (
	submitWork      uint64
	submitTitle     string
	submitURI       string
	submitSummary   string
	submitHash      string
	submitParent    uint64
	submitPublic    bool
	submitCategory  string
	versionsGateway string
)

var worksCmd = &cobra.Command{
	Use:   "works",
	Short: "Register works and inspect their versions",
}

var worksSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a version, registering a new work unless --work is given",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		draft := core.VersionDraft{
			WorkID:          submitWork,
			Title:           submitTitle,
			MetadataURI:     submitURI,
			ParentVersionID: submitParent,
			Visibility:      core.VisibilityRestricted,
			Category:        submitCategory,
		}
		if submitPublic {
			draft.Visibility = core.VisibilityPublic
		}
		switch {
		case submitHash != "":
			draft.ContentHash = common.HexToHash(submitHash)
		case submitSummary != "":
			draft.ContentHash = core.ContentHash(submitSummary)
		}

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		r, err := rt.Service.SubmitVersion(ctx, draft)
		if err != nil {
			fatal("Failed to submit version", err)
		}
		printResult(r, func() {
			fmt.Printf("version %d of work %d submitted (tx %s)\n", r.VersionID, r.WorkID, r.TxHash.Hex())
		})
	},
}

var worksVersionsCmd = &cobra.Command{
	Use:   "versions <work>",
	Short: "List the versions of a work, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workID := parseID("work id", args[0])

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		versions, err := rt.Service.Versions(ctx, workID)
		if err != nil {
			fatal("Failed to list versions", err)
		}
		gateway := versionsGateway
		if gateway == "" {
			gateway = rt.Config.Gateway
		}
		printResult(versions, func() {
			for _, v := range versions {
				ts := time.Unix(v.Timestamp, 0).UTC().Format(time.RFC3339)
				fmt.Printf("%d  %s  %s  %s  %s\n", v.ID, ts, v.Visibility, v.Title, core.GatewayURL(gateway, v.MetadataURI))
			}
		})
	},
}

func init() {
	f := worksSubmitCmd.Flags()
	f.Uint64Var(&submitWork, "work", 0, "Existing work id (default: register a new work)")
	f.StringVar(&submitTitle, "title", "", "Version title")
	f.StringVar(&submitURI, "uri", "", "Metadata locator or bare IPFS content id")
	f.StringVar(&submitSummary, "summary", "", "Content summary; its keccak256 is recorded")
	f.StringVar(&submitHash, "hash", "", "Content hash, overrides --summary")
	f.Uint64Var(&submitParent, "parent", 0, "Parent version id")
	f.BoolVar(&submitPublic, "public", false, "Publish the version as public (default: restricted)")
	f.StringVar(&submitCategory, "category", core.DefaultCategory, "Version category")
	worksVersionsCmd.Flags().StringVar(&versionsGateway, "gateway", "", "IPFS gateway for metadata links")

	worksCmd.AddCommand(worksSubmitCmd, worksVersionsCmd)
	rootCmd.AddCommand(worksCmd)
}
