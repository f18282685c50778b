package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault/pkg/core"
)

var (
	licensePrice string
	licenseTerms string
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Issue, buy and list licenses",
}

var licenseIssueCmd = &cobra.Command{
	Use:   "issue <work>",
	Short: "Offer a license for a work you authored",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workID := parseID("work id", args[0])
		price := mustParseEther(licensePrice)

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		id, err := rt.Service.IssueLicense(ctx, workID, licenseTerms, price)
		if err != nil {
			fatal("Failed to issue license", err)
		}
		printResult(map[string]uint64{"license": id, "work": workID}, func() {
			fmt.Printf("license %d issued for work %d at %s ETH\n", id, workID, core.FormatEther(price))
		})
	},
}

var licenseBuyCmd = &cobra.Command{
	Use:   "buy <license>",
	Short: "Buy a license, paying its price unless --price is given",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		licenseID := parseID("license id", args[0])

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		var payment *big.Int
		if licensePrice != "" {
			payment = mustParseEther(licensePrice)
		} else {
			l, err := rt.Service.LicenseService().Get(ctx, licenseID)
			if err != nil {
				fatal("Failed to read license", err)
			}
			payment = l.PriceWei
		}

		r, err := rt.Service.BuyLicense(ctx, licenseID, payment)
		if err != nil {
			fatal("Failed to buy license", err)
		}
		printResult(r, func() {
			fmt.Printf("bought license %d for %s ETH (tx %s)\n", licenseID, core.FormatEther(payment), r.TxHash.Hex())
		})
	},
}

var licenseListCmd = &cobra.Command{
	Use:   "list <work>",
	Short: "List the licenses of a work",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workID := parseID("work id", args[0])

		ctx := context.Background()
		rt := openRuntime(ctx)
		defer rt.Close()

		licenses, err := rt.Service.LicenseService().Refresh(ctx, workID)
		if err != nil {
			fatal("Failed to list licenses", err)
		}
		printResult(licenses, func() {
			for _, l := range licenses {
				state := "available"
				if l.Sold() {
					state = "sold to " + l.Licensee.Hex()
				} else if !l.Active {
					state = "inactive"
				}
				fmt.Printf("%d  %s ETH  %s  %s\n", l.ID, core.FormatEther(l.PriceWei), state, l.Terms)
			}
		})
	},
}

func mustParseEther(s string) *big.Int {
	if s == "" {
		fatal("Invalid price", fmt.Errorf("--price is required"))
	}
	v, err := core.ParseEther(s)
	if err != nil {
		fatal("Invalid price", err)
	}
	return v
}

func init() {
	licenseIssueCmd.Flags().StringVar(&licensePrice, "price", "", "Price in ETH (e.g. 0.01)")
	licenseIssueCmd.Flags().StringVar(&licenseTerms, "terms", "", "License terms, usually JSON")
	licenseBuyCmd.Flags().StringVar(&licensePrice, "price", "", "Payment in ETH (default: the listed price)")

	licenseCmd.AddCommand(licenseIssueCmd, licenseBuyCmd, licenseListCmd)
	rootCmd.AddCommand(licenseCmd)
}
