package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/referral/internal/platform"
)

// Binding wraps a platform.FixtureBinding with error injection and a log of
// which platform calls were made, in order.
type Binding struct {
	*platform.FixtureBinding

	InitErr      error
	PurchasesErr error
	ProductsErr  error

	// NoResult makes RequestSubscription return (nil, nil), as the platform
	// does when the purchase sheet is dismissed without an error.
	NoResult bool

	mu    sync.Mutex
	calls []string
}

// NewBinding creates a Binding over f. A nil fixture is an empty iOS account.
func NewBinding(f *platform.Fixture) *Binding {
	return &Binding{FixtureBinding: platform.NewFixtureBinding(f)}
}

func (b *Binding) InitConnection(ctx context.Context) (bool, error) {
	b.record("init")
	if b.InitErr != nil {
		return false, b.InitErr
	}
	return b.FixtureBinding.InitConnection(ctx)
}

func (b *Binding) AvailablePurchases(ctx context.Context) ([]platform.Purchase, error) {
	b.record("purchases")
	if b.PurchasesErr != nil {
		return nil, b.PurchasesErr
	}
	return b.FixtureBinding.AvailablePurchases(ctx)
}

func (b *Binding) Products(ctx context.Context, skus []string) ([]platform.Product, error) {
	b.record("products")
	if b.ProductsErr != nil {
		return nil, b.ProductsErr
	}
	return b.FixtureBinding.Products(ctx, skus)
}

func (b *Binding) RequestSubscription(ctx context.Context, req platform.SubscriptionRequest) (*platform.PurchaseResult, error) {
	b.record("subscribe")
	res, err := b.FixtureBinding.RequestSubscription(ctx, req)
	if err != nil {
		return nil, err
	}
	if b.NoResult {
		return nil, nil
	}
	return res, nil
}

// PlatformCalls returns the names of the platform calls made so far.
func (b *Binding) PlatformCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

func (b *Binding) record(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, name)
}
