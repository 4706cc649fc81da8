package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/platform"
	"github.com/roach88/referral/internal/sdkerr"
)

// KeyProcessedTransactions holds the JSON array of recorded transaction ids.
const KeyProcessedTransactions = "APPOSAUR_SDK_PROCESSED_TRANSACTIONS"

// EndpointPurchase receives purchase reports.
const EndpointPurchase = "/referral/purchase"

// API is the subset of apiclient.Client the engine needs.
type API interface {
	Post(ctx context.Context, endpoint string, body, out any) error
}

// Users resolves the registered app user. Implemented by referral.Store.
type Users interface {
	AppUserID(ctx context.Context) (string, bool, error)
}

type purchaseReport struct {
	AppUserID     string `json:"app_user_id"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
}

// Engine attributes purchases and tracks the active subscription product.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	kv      kv.Store
	api     API
	users   Users
	binding platform.Binding
	policy  RecordPolicy
	log     *slog.Logger
	metrics *metrics.Metrics

	mu            sync.RWMutex
	activeProduct string

	// flight collapses concurrent calls for one transaction id
	flight singleflight.Group

	// setMu serialises read-modify-write of the processed set, which all ids share
	setMu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecordPolicy sets when transaction ids are recorded.
//
// Default: RecordAfterAttempt.
func WithRecordPolicy(p RecordPolicy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records attribution counters on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine. binding is used only for active product discovery.
func New(store kv.Store, api API, users Users, binding platform.Binding, opts ...EngineOption) *Engine {
	e := &Engine{
		kv:      store,
		api:     api,
		users:   users,
		binding: binding,
		policy:  RecordAfterAttempt,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's record policy.
func (e *Engine) Policy() RecordPolicy {
	return e.policy
}

// AttributePurchase reports a purchase for the registered user, once per
// transaction id.
//
// The result is Ok when the report was sent, when no user is registered, and
// when the id was already recorded. A failed report is Recoverable: the
// platform purchase already happened and must not be undone by bookkeeping.
// Missing arguments and store failures are Fatal.
func (e *Engine) AttributePurchase(ctx context.Context, productID, transactionID string) outcome.Result {
	if productID == "" || transactionID == "" {
		return outcome.Fail(sdkerr.Precondition(sdkerr.ReasonMissingArgument, "product id and transaction id are required"))
	}

	appUserID, ok, err := e.users.AppUserID(ctx)
	if err != nil {
		e.log.Error("attributing purchase failed", "transaction_id", transactionID, "error", err)
		return outcome.Fail(err)
	}
	if !ok {
		e.metrics.Skipped("unregistered")
		e.log.Debug("purchase not attributed: no registered user", "transaction_id", transactionID)
		return outcome.OK()
	}

	v, _, _ := e.flight.Do(transactionID, func() (any, error) {
		return e.attribute(ctx, appUserID, productID, transactionID), nil
	})
	return v.(outcome.Result)
}

// attribute runs the check-report-record sequence for one transaction id.
// Callers hold the id's singleflight slot.
func (e *Engine) attribute(ctx context.Context, appUserID, productID, transactionID string) outcome.Result {
	processed, err := e.ProcessedTransactions(ctx)
	if err != nil {
		e.log.Error("attributing purchase failed", "transaction_id", transactionID, "error", err)
		return outcome.Fail(err)
	}
	if slices.Contains(processed, transactionID) {
		e.metrics.Skipped("duplicate")
		e.log.Debug("purchase already attributed", "transaction_id", transactionID)
		return outcome.OK()
	}

	// Set before reporting so rewards become available even if the report fails
	e.SetActiveProduct(productID)

	reportErr := e.api.Post(ctx, EndpointPurchase, purchaseReport{
		AppUserID:     appUserID,
		ProductID:     productID,
		TransactionID: transactionID,
	}, nil)
	if reportErr != nil {
		e.metrics.Report("failed")
		e.log.Error("sending purchase event failed",
			"transaction_id", transactionID,
			"product_id", productID,
			"error", reportErr,
		)
		if e.policy == RecordAfterSuccess {
			return outcome.Recover(fmt.Errorf("reporting purchase: %w", reportErr))
		}
	} else {
		e.metrics.Report("sent")
	}

	if err := e.record(ctx, transactionID); err != nil {
		e.log.Error("recording transaction failed", "transaction_id", transactionID, "error", err)
		return outcome.Fail(err)
	}
	if reportErr != nil {
		return outcome.Recover(fmt.Errorf("reporting purchase: %w", reportErr))
	}

	e.log.Info("purchase attributed",
		"transaction_id", transactionID,
		"product_id", productID,
		"app_user_id", appUserID,
	)
	return outcome.OK()
}

// record appends transactionID to the persisted set if it is not already present.
func (e *Engine) record(ctx context.Context, transactionID string) error {
	e.setMu.Lock()
	defer e.setMu.Unlock()

	processed, err := e.ProcessedTransactions(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(processed, transactionID) {
		return nil
	}
	data, err := json.Marshal(append(processed, transactionID))
	if err != nil {
		return fmt.Errorf("encoding processed transactions: %w", err)
	}
	if err := e.kv.Set(ctx, KeyProcessedTransactions, string(data)); err != nil {
		return fmt.Errorf("saving processed transactions: %w", err)
	}
	return nil
}

// ProcessedTransactions returns the recorded transaction ids in the order
// they were recorded.
func (e *Engine) ProcessedTransactions(ctx context.Context) ([]string, error) {
	raw, ok, err := e.kv.Get(ctx, KeyProcessedTransactions)
	if err != nil {
		return nil, fmt.Errorf("reading processed transactions: %w", err)
	}
	if !ok || raw == "" {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decoding processed transactions: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ActiveProduct returns the cached active subscription product, or "" if unknown.
func (e *Engine) ActiveProduct() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeProduct
}

// SetActiveProduct replaces the cached active subscription product.
func (e *Engine) SetActiveProduct(productID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeProduct = productID
}

// DiscoverActiveProduct asks the platform which subscription the store
// account owns. It returns sdkerr.ErrNoPurchasesFound when there is none.
// The cache is not changed; see RefreshActiveProduct.
func (e *Engine) DiscoverActiveProduct(ctx context.Context) (string, error) {
	purchases, err := e.binding.AvailablePurchases(ctx)
	if err != nil {
		return "", fmt.Errorf("querying available purchases: %w", err)
	}
	if len(purchases) == 0 {
		return "", sdkerr.ErrNoPurchasesFound
	}
	return purchases[0].ProductID, nil
}

// RefreshActiveProduct runs discovery and caches the result on success.
// On failure the cache keeps its previous value.
func (e *Engine) RefreshActiveProduct(ctx context.Context) (string, error) {
	productID, err := e.DiscoverActiveProduct(ctx)
	if err != nil {
		return "", err
	}
	e.SetActiveProduct(productID)
	return productID, nil
}
