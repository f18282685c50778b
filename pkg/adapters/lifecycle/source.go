// Package lifecycle bridges ledger event streams to the lifecycle event model.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/scriptvault/pkg/core"
)

type saleSource struct {
	sales <-chan core.LicenseSold
	out   chan lifecycle.Event
}

// NewSaleSource creates a lifecycle.Source that emits license sales.
// The output channel is closed once ctx ends or the sale channel is closed.
func NewSaleSource(sales <-chan core.LicenseSold) lifecycle.Source {
	return &saleSource{
		sales: sales,
		out:   make(chan lifecycle.Event),
	}
}

func (s *saleSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *saleSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case sale, ok := <-s.sales:
				if !ok {
					return nil
				}
				select {
				case s.out <- sale:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
