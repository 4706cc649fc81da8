// Package sdk wires the referral components into one session object.
//
// A process builds exactly one Client at startup with New and passes it to
// whatever needs it. Initialize must succeed before any operation that talks
// to the backend; until then requests fail with a CONFIGURATION error.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/referral/internal/apiclient"
	"github.com/roach88/referral/internal/attribution"
	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/platform"
	"github.com/roach88/referral/internal/referral"
	"github.com/roach88/referral/internal/rewards"
	"github.com/roach88/referral/internal/sdkerr"
)

// EndpointKey validates the API key.
const EndpointKey = "/referral/key"

// Options configures a Client.
type Options struct {
	// API configures the HTTP client. Its Logger and Metrics default to the
	// ones below.
	API apiclient.Config

	RecordPolicy attribution.RecordPolicy
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Client is the referral SDK session.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	api       *apiclient.Client
	binding   platform.Binding
	referrals *referral.Store
	engine    *attribution.Engine
	rewards   *rewards.Flow
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// New builds a Client over store and binding.
func New(store kv.Store, binding platform.Binding, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	apiCfg := opts.API
	if apiCfg.Logger == nil {
		apiCfg.Logger = log
	}
	if apiCfg.Metrics == nil {
		apiCfg.Metrics = opts.Metrics
	}
	api := apiclient.New(apiCfg)

	referrals := referral.NewStore(store, api, log)
	engine := attribution.New(store, api, referrals, binding,
		attribution.WithRecordPolicy(opts.RecordPolicy),
		attribution.WithLogger(log),
		attribution.WithMetrics(opts.Metrics),
	)
	flow := rewards.NewFlow(api, referrals, engine, binding, rewards.Options{
		Logger:  log,
		Metrics: opts.Metrics,
	})

	return &Client{
		api:       api,
		binding:   binding,
		referrals: referrals,
		engine:    engine,
		rewards:   flow,
		log:       log,
		metrics:   opts.Metrics,
	}
}

// Initialize starts the session.
//
// It rejects platforms other than iOS, attaches apiKey to every request,
// opens the platform purchase connection and validates the key with the
// backend. All of these are fatal. It then tries to discover the active
// subscription product; that step never fails Initialize.
//
// Calling Initialize again replaces the session and clears the cached
// active product before rediscovering it.
func (c *Client) Initialize(ctx context.Context, apiKey string) error {
	os := c.binding.OS()
	if os != platform.OSiOS {
		return sdkerr.Configuration(fmt.Sprintf("platform %q is not supported", os), nil)
	}
	if apiKey == "" {
		return sdkerr.Configuration("api key is empty", nil)
	}

	c.api.SetCredentials(apiclient.Credentials{APIKey: apiKey, Platform: os})
	c.engine.SetActiveProduct("")

	connected, err := c.binding.InitConnection(ctx)
	if err != nil || !connected {
		err = sdkerr.Configuration("failed to initialize in-app purchase", err)
		c.log.Error("initializing failed", "error", err)
		return err
	}

	if err := c.validateAPIKey(ctx); err != nil {
		err = sdkerr.Configuration("failed to verify API key", err)
		c.log.Error("initializing failed", "error", err)
		return err
	}

	productID, err := c.engine.RefreshActiveProduct(ctx)
	if err != nil {
		c.log.Debug("no active subscription discovered", "error", err)
	} else {
		c.log.Info("active subscription discovered", "product_id", productID)
	}
	return nil
}

func (c *Client) validateAPIKey(ctx context.Context) error {
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := c.api.Post(ctx, EndpointKey, nil, &resp); err != nil {
		return err
	}
	if !resp.Valid {
		return errors.New("invalid API key")
	}
	return nil
}

// ValidateReferralCode checks code with the backend and stores the referral
// link when it is accepted.
func (c *Client) ValidateReferralCode(ctx context.Context, code string) (bool, error) {
	return c.referrals.ValidateReferralCode(ctx, code)
}

// ClearReferralCode forgets the stored referral link.
func (c *Client) ClearReferralCode(ctx context.Context) {
	c.referrals.ClearReferralCode(ctx)
}

// RegisterUser registers the app's user. Failures are Recoverable.
func (c *Client) RegisterUser(ctx context.Context, req referral.RegisterRequest) (*referral.RegisterResponse, outcome.Result) {
	return c.referrals.RegisterUser(ctx, req)
}

// RegisteredUserReferralCode returns the registered user's own code.
func (c *Client) RegisteredUserReferralCode(ctx context.Context) (string, bool, error) {
	return c.referrals.RegisteredUserReferralCode(ctx)
}

// AttributePurchase reports a purchase at most once per transaction id.
func (c *Client) AttributePurchase(ctx context.Context, productID, transactionID string) outcome.Result {
	return c.engine.AttributePurchase(ctx, productID, transactionID)
}

// GetRewards lists rewards for the active product.
func (c *Client) GetRewards(ctx context.Context) (rewards.List, outcome.Result) {
	return c.rewards.GetRewards(ctx)
}

// RedeemRewardOffer redeems a reward through a signed subscription offer.
func (c *Client) RedeemRewardOffer(ctx context.Context, rewardID string) (*platform.PurchaseResult, error) {
	return c.rewards.RedeemRewardOffer(ctx, rewardID)
}

// ActiveProduct returns the cached active subscription product, or "".
func (c *Client) ActiveProduct() string {
	return c.engine.ActiveProduct()
}

// ProcessedTransactions returns the transaction ids already reported.
func (c *Client) ProcessedTransactions(ctx context.Context) ([]string, error) {
	return c.engine.ProcessedTransactions(ctx)
}

// User returns the registered user, if any.
func (c *Client) User(ctx context.Context) (referral.User, bool, error) {
	return c.referrals.User(ctx)
}

// Metrics returns the session's collectors. May be nil.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}
