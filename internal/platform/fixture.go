package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Fixture describes a simulated store account.
//
// Example file:
//
//	os: ios
//	purchases:
//	  - product_id: pro_monthly
//	    transaction_id: "2000000123"
//	products:
//	  - product_id: pro_monthly
//	    title: Pro Monthly
//	subscription:
//	  transaction_id: "2000000456"
type Fixture struct {
	// OS is the platform tag. Defaults to "ios".
	OS string `yaml:"os"`

	// Connected reports whether InitConnection succeeds. Defaults to true.
	Connected *bool `yaml:"connected,omitempty"`

	// Purchases is the available-purchases list, most relevant first.
	Purchases []Purchase `yaml:"purchases"`

	// Products is the catalog used for SKU lookups.
	Products []Product `yaml:"products"`

	// Subscription scripts the result of RequestSubscription.
	Subscription SubscriptionScript `yaml:"subscription"`
}

// SubscriptionScript scripts the outcome of a subscription request.
type SubscriptionScript struct {
	// TransactionID is returned on success; empty means no purchase evidence.
	TransactionID string `yaml:"transaction_id"`

	// Error, when set, makes the request fail with this message.
	Error string `yaml:"error,omitempty"`
}

// LoadFixture parses a fixture YAML file. Unknown fields are rejected.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture parses fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	if f.OS == "" {
		f.OS = OSiOS
	}
	return &f, nil
}

// FixtureBinding implements Binding from a Fixture and records subscription requests.
type FixtureBinding struct {
	fixture *Fixture

	mu       sync.Mutex
	requests []SubscriptionRequest
}

// NewFixtureBinding creates a binding for f. A nil fixture is an empty iOS account.
func NewFixtureBinding(f *Fixture) *FixtureBinding {
	if f == nil {
		f = &Fixture{OS: OSiOS}
	}
	return &FixtureBinding{fixture: f}
}

func (b *FixtureBinding) OS() string {
	return b.fixture.OS
}

func (b *FixtureBinding) InitConnection(context.Context) (bool, error) {
	if b.fixture.Connected == nil {
		return true, nil
	}
	return *b.fixture.Connected, nil
}

func (b *FixtureBinding) AvailablePurchases(context.Context) ([]Purchase, error) {
	return slices.Clone(b.fixture.Purchases), nil
}

func (b *FixtureBinding) Products(_ context.Context, skus []string) ([]Product, error) {
	var out []Product
	for _, p := range b.fixture.Products {
		if slices.Contains(skus, p.ProductID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *FixtureBinding) RequestSubscription(_ context.Context, req SubscriptionRequest) (*PurchaseResult, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	script := b.fixture.Subscription
	if script.Error != "" {
		return nil, errors.New(script.Error)
	}
	return &PurchaseResult{ProductID: req.SKU, TransactionID: script.TransactionID}, nil
}

// Requests returns the subscription requests made so far.
func (b *FixtureBinding) Requests() []SubscriptionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.requests)
}
