// Package platform describes the in-app-purchase binding the SDK drives.
//
// The store's native API (StoreKit on iOS) is outside this module; the SDK
// talks to it only through Binding. FixtureBinding is a file-driven
// implementation used by the CLI and by end-to-end tests.
package platform

import (
	"context"
	"time"
)

// Platform tags sent in the x-sdk-platform header.
const (
	OSiOS     = "ios"
	OSAndroid = "android"
)

// Purchase is one entry of the platform's available-purchases list.
type Purchase struct {
	ProductID             string    `yaml:"product_id" json:"product_id"`
	TransactionID         string    `yaml:"transaction_id" json:"transaction_id"`
	OriginalTransactionID string    `yaml:"original_transaction_id,omitempty" json:"original_transaction_id,omitempty"`
	TransactionDate       time.Time `yaml:"transaction_date,omitempty" json:"transaction_date,omitempty"`
}

// Product is a catalog entry returned by a SKU lookup.
type Product struct {
	ProductID string `yaml:"product_id" json:"product_id"`
	Title     string `yaml:"title,omitempty" json:"title,omitempty"`
	Price     string `yaml:"price,omitempty" json:"price,omitempty"`
}

// Offer is the signed promotional-offer descriptor attached to a subscription purchase.
type Offer struct {
	Identifier    string `json:"identifier"`
	KeyIdentifier string `json:"keyIdentifier"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
}

// SubscriptionRequest asks the platform to buy SKU, optionally with an offer.
// AppAccountToken ties the resulting transaction to the SDK's app user.
type SubscriptionRequest struct {
	SKU             string
	AppAccountToken string
	Offer           *Offer
}

// PurchaseResult is what the platform returns from a subscription request.
// An empty TransactionID means the platform produced no purchase evidence
// (deferred, pending approval, or cancelled without an error).
type PurchaseResult struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Binding is the platform in-app-purchase API.
type Binding interface {
	// OS returns the platform tag, e.g. OSiOS.
	OS() string

	// InitConnection opens the connection to the store. false means the store is unavailable.
	InitConnection(ctx context.Context) (bool, error)

	// AvailablePurchases lists purchases owned by the current store account.
	AvailablePurchases(ctx context.Context) ([]Purchase, error)

	// Products looks up catalog entries by SKU.
	Products(ctx context.Context, skus []string) ([]Product, error)

	// RequestSubscription runs the platform purchase sheet.
	RequestSubscription(ctx context.Context, req SubscriptionRequest) (*PurchaseResult, error)
}
