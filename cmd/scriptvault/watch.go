package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/introspection"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/scriptvault"
	"github.com/aretw0/scriptvault/internal/platform"
	"github.com/aretw0/scriptvault/pkg/core"
)

var (
	watchWorks       []string
	watchScope       uint64
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Grant access automatically whenever a license of your works sells",
	Long: `Watch license sales of the given works and grant each buyer the configured scope.

Only works authored by the active identity are watched. Each sale is handled at most
once; a failed grant is logged and must be repeated with "scriptvault grant".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt := openRuntime(ctx, scriptvault.WithStoreWatch(true))
		defer rt.Close()

		works := rt.Config.Reactor.Works
		if len(watchWorks) > 0 {
			ids, err := platform.ParseWorkIDs(watchWorks)
			if err != nil {
				fatal("Invalid --work", err)
			}
			works = ids
		}
		if len(works) == 0 {
			fatal("Nothing to watch", errors.New("pass --work or set reactor.works"))
		}
		scope, err := scopeLevel(cmd.Flags().Changed("scope"), watchScope, rt.Config.Reactor.Scope)
		if err != nil {
			fatal("Invalid --scope", err)
		}

		reactor := scriptvault.NewReactor(rt.Service, scriptvault.ReactorConfig{
			Works:  works,
			Scope:  scope,
			Logger: slog.Default(),
			OnOutcome: func(o scriptvault.ReactorOutcome) {
				if o.Err != nil {
					fmt.Fprintf(os.Stderr, "license %d of work %d: automatic grant failed: %v\n", o.Sale.LicenseID, o.Sale.WorkID, o.Err)
					return
				}
				fmt.Printf("license %d of work %d: scope %d granted to %s (tx %s)\n",
					o.Sale.LicenseID, o.Sale.WorkID, scope, o.Sale.Licensee.Hex(), o.Receipt.TxHash.Hex())
			},
		})

		addr := watchMetricsAddr
		if addr == "" {
			addr = rt.Config.Reactor.MetricsAddr
		}
		if addr != "" {
			srv := newMetricsServer(addr, reactor, rt.Service.Sessions())
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			slog.Info("serving metrics", "addr", addr)
		}

		if err := reactor.Run(ctx); err != nil {
			fatal("Auto-grant stopped", err)
		}
		printResult(reactor.State(), func() {
			st := reactor.State().(scriptvault.ReactorState)
			fmt.Fprintf(os.Stderr, "stopped: %d granted, %d failed\n", st.Granted, st.Failed)
		})
	},
}

// scopeLevel picks the level granted on each sale: the flag when given, else the configured one.
func scopeLevel(flagSet bool, flag, configured uint64) (uint64, error) {
	if !flagSet {
		return configured, nil
	}
	if flag == 0 {
		return 0, fmt.Errorf("%w: scope must be at least 1", core.ErrInvalidInput)
	}
	return flag, nil
}

// newMetricsServer exposes Prometheus metrics and the component states.
func newMetricsServer(addr string, components ...introspection.Introspectable) *http.Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		states := make(map[string]any, len(components))
		for i, c := range components {
			name := fmt.Sprintf("component-%d", i)
			if comp, ok := c.(introspection.Component); ok {
				name = comp.ComponentType()
			}
			states[name] = c.State()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(states)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchWorks, "work", nil, "Work id to watch (repeatable; default: reactor.works)")
	watchCmd.Flags().Uint64Var(&watchScope, "scope", 1, "Scope level granted on each sale (at least 1; default: reactor.scope)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve /metrics and /state on this address")
}
