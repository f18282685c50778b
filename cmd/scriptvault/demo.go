package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault"
	"github.com/aretw0/scriptvault/pkg/adapters/memory"
	"github.com/aretw0/scriptvault/pkg/adapters/sim"
	"github.com/aretw0/scriptvault/pkg/core"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the license and grant flow against an in-memory network",
	Long: `Run the whole protocol against an in-memory registry and relayer: an author
registers a work and sells a license, the auto-grant reactor grants the buyer a scope,
and the buyer decrypts it. Nothing leaves the process.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDemo(context.Background()); err != nil {
			fatal("Demo failed", err)
		}
	},
}

type demoParty struct {
	name string
	addr common.Address
	svc  *scriptvault.Service
}

func newDemoParty(stack *sim.Stack, name string) (*demoParty, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	svc, err := scriptvault.NewService(scriptvault.Deps{
		Ledger:  stack.Network,
		Compute: stack.Compute,
		Wallet:  stack.Wallet(key),
		Store:   memory.NewStore(),
	}, core.WithLogger(slog.Default()), core.WithStatus(printStatus))
	if err != nil {
		return nil, err
	}
	return &demoParty{name: name, addr: crypto.PubkeyToAddress(key.PublicKey), svc: svc}, nil
}

func runDemo(ctx context.Context) error {
	stack, err := sim.Start(sim.Options{ConfirmDelay: 50 * time.Millisecond, Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer stack.Close()
	fmt.Printf("registry %s on chain %d, relayer at %s\n", stack.Network.Address().Hex(), stack.Network.ChainID(), stack.Server.URL)

	author, err := newDemoParty(stack, "author")
	if err != nil {
		return err
	}
	buyer, err := newDemoParty(stack, "buyer")
	if err != nil {
		return err
	}
	stranger, err := newDemoParty(stack, "stranger")
	if err != nil {
		return err
	}

	r, err := author.svc.SubmitVersion(ctx, scriptvault.VersionDraft{
		Title:       "Night Shift (draft 3)",
		MetadataURI: "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		ContentHash: core.ContentHash("A night guard finds the museum rearranged every morning."),
		Visibility:  core.VisibilityRestricted,
	})
	if err != nil {
		return err
	}
	workID := r.WorkID
	fmt.Printf("%s registered work %d\n", author.name, workID)

	price, _ := core.ParseEther("0.01")
	licenseID, err := author.svc.IssueLicense(ctx, workID, `{"use":"stage","territory":"worldwide"}`, price)
	if err != nil {
		return err
	}
	fmt.Printf("%s offers license %d at %s ETH\n", author.name, licenseID, core.FormatEther(price))

	// Neither of these goes through.
	if _, err := stranger.svc.GrantAccess(ctx, workID, stranger.addr, 0, 3); errors.Is(err, core.ErrUnauthorized) {
		fmt.Printf("%s cannot grant on work %d: %v\n", stranger.name, workID, err)
	}
	if _, err := buyer.svc.BuyLicense(ctx, licenseID, new(big.Int).Div(price, big.NewInt(2))); errors.Is(err, core.ErrInsufficientPayment) {
		fmt.Printf("%s underpaid: %v\n", buyer.name, err)
	}

	reactorCtx, stopReactor := context.WithCancel(ctx)
	defer stopReactor()
	granted := make(chan scriptvault.ReactorOutcome, 1)
	reactor := scriptvault.NewReactor(author.svc, scriptvault.ReactorConfig{
		Works:     []uint64{workID},
		Scope:     2,
		Logger:    slog.Default(),
		OnOutcome: func(o scriptvault.ReactorOutcome) { granted <- o },
	})
	done := make(chan error, 1)
	go func() { done <- reactor.Run(reactorCtx) }()
	for stack.Network.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Printf("auto-grant watching work %d for %s\n", workID, author.name)

	if _, err := buyer.svc.BuyLicense(ctx, licenseID, price); err != nil {
		return err
	}
	fmt.Printf("%s bought license %d\n", buyer.name, licenseID)

	select {
	case o := <-granted:
		if o.Err != nil {
			return fmt.Errorf("automatic grant: %w", o.Err)
		}
		fmt.Printf("auto-grant gave %s scope 2 (tx %s)\n", buyer.name, o.Receipt.TxHash.Hex())
	case <-time.After(10 * time.Second):
		return errors.New("timed out waiting for the automatic grant")
	}

	scope, err := buyer.svc.ReadScope(ctx, workID)
	if err != nil {
		return err
	}
	fmt.Printf("%s decrypted scope %d on work %d\n", buyer.name, scope, workID)

	if _, err := stranger.svc.ReadScope(ctx, workID); err != nil {
		fmt.Printf("%s has no scope on work %d: %v\n", stranger.name, workID, err)
	}

	stopReactor()
	if err := <-done; err != nil {
		return err
	}
	printResult(reactor.State(), func() {
		st := reactor.State().(scriptvault.ReactorState)
		fmt.Printf("reactor stopped after %d grant(s)\n", st.Granted)
	})
	return nil
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
