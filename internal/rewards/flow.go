// Package rewards lists referral rewards and redeems them as signed
// subscription offers.
//
// Redemption is strict about ordering: the backend is told a reward was
// redeemed only after the platform returned a transaction id for the offer
// purchase. A signed offer on its own grants nothing.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/platform"
	"github.com/roach88/referral/internal/sdkerr"
)

// Backend endpoints.
const (
	EndpointRewards = "/referral/rewards"
	EndpointSign    = "/referral/rewards/sign"
	EndpointRedeem  = "/referral/rewards/redeem"
)

// Redemption stages reported to metrics.
const (
	StageRejected    = "rejected"
	StageCatalog     = "catalog_failed"
	StageSign        = "sign_failed"
	StagePurchase    = "purchase_failed"
	StageUnconfirmed = "unconfirmed"
	StageConfirm     = "confirm_failed"
	StageRedeemed    = "redeemed"
)

// ErrPurchaseNotConfirmed is returned when the platform completed the offer
// purchase sheet without producing a transaction. No reward was granted.
var ErrPurchaseNotConfirmed = errors.New("rewards: platform returned no transaction for the offer purchase")

// API is the subset of apiclient.Client the flow needs.
type API interface {
	Get(ctx context.Context, endpoint string, out any) error
	Post(ctx context.Context, endpoint string, body, out any) error
}

// Users resolves the registered app user.
type Users interface {
	AppUserID(ctx context.Context) (string, bool, error)
}

// Products exposes the cached active subscription product.
type Products interface {
	ActiveProduct() string
}

// Reward is one reward the user may redeem.
type Reward struct {
	RewardID  string `json:"app_reward_id"`
	OfferName string `json:"offer_name"`
}

// List is the backend's reward listing.
type List struct {
	Rewards []Reward `json:"rewards"`
}

// SignedOffer is a single-use offer credential minted by the backend.
type SignedOffer struct {
	OfferID       string `json:"offerId"`
	KeyIdentifier string `json:"keyIdentifier"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
}

type signRequest struct {
	RewardID  string `json:"app_reward_id"`
	ProductID string `json:"product_id"`
	AppUserID string `json:"app_user_id"`
}

type redeemRequest struct {
	RewardID string `json:"app_reward_id"`
}

// Options configures a Flow.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Flow implements reward listing and redemption.
type Flow struct {
	api      API
	users    Users
	products Products
	binding  platform.Binding
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewFlow creates a Flow.
func NewFlow(api API, users Users, products Products, binding platform.Binding, opts Options) *Flow {
	f := &Flow{
		api:      api,
		users:    users,
		products: products,
		binding:  binding,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// GetRewards lists the rewards available to the registered user for the
// active product.
//
// Without a registered user or an active product it returns an empty list
// and makes no request. Failures are logged and also yield an empty list,
// with a Recoverable result.
func (f *Flow) GetRewards(ctx context.Context) (List, outcome.Result) {
	empty := List{Rewards: []Reward{}}

	appUserID, ok, err := f.users.AppUserID(ctx)
	if err != nil {
		f.log.Error("getting rewards failed", "error", err)
		return empty, outcome.Recover(err)
	}
	productID := f.products.ActiveProduct()
	if !ok || productID == "" {
		return empty, outcome.OK()
	}

	q := url.Values{}
	q.Set("app_user_id", appUserID)
	q.Set("product_id", productID)
	endpoint := EndpointRewards + "?" + q.Encode()

	var list List
	if err := f.api.Get(ctx, endpoint, &list); err != nil {
		f.log.Error("getting rewards failed", "product_id", productID, "error", err)
		return empty, outcome.Recover(fmt.Errorf("getting rewards: %w", err))
	}
	if list.Rewards == nil {
		list.Rewards = []Reward{}
	}
	return list, outcome.OK()
}

// RedeemRewardOffer redeems rewardID as a signed offer on the active product.
//
// Steps, each aborting the rest on failure:
//  1. the active product must be returned by the platform catalog
//  2. the backend signs an offer for the reward
//  3. the platform purchases the subscription with that offer
//  4. if and only if step 3 produced a transaction id, the backend is told
//     the reward was redeemed
//
// A purchase without a transaction id returns ErrPurchaseNotConfirmed.
func (f *Flow) RedeemRewardOffer(ctx context.Context, rewardID string) (*platform.PurchaseResult, error) {
	if rewardID == "" {
		f.metrics.Redemption(StageRejected)
		return nil, sdkerr.Precondition(sdkerr.ReasonMissingArgument, "reward id is empty")
	}
	appUserID, ok, err := f.users.AppUserID(ctx)
	if err != nil {
		f.metrics.Redemption(StageRejected)
		return nil, fmt.Errorf("redeeming reward: %w", err)
	}
	if !ok {
		f.metrics.Redemption(StageRejected)
		return nil, sdkerr.MissingUser()
	}
	productID := f.products.ActiveProduct()
	if productID == "" {
		f.metrics.Redemption(StageRejected)
		return nil, sdkerr.MissingSubscription()
	}

	log := f.log.With("reward_id", rewardID, "product_id", productID)

	products, err := f.binding.Products(ctx, []string{productID})
	if err != nil {
		return nil, f.abort(log, StageCatalog, fmt.Errorf("looking up product %s: %w", productID, err))
	}
	if !slices.ContainsFunc(products, func(p platform.Product) bool { return p.ProductID == productID }) {
		return nil, f.abort(log, StageCatalog, fmt.Errorf("product %s is not available from the store", productID))
	}

	var offer SignedOffer
	err = f.api.Post(ctx, EndpointSign, signRequest{
		RewardID:  rewardID,
		ProductID: productID,
		AppUserID: appUserID,
	}, &offer)
	if err != nil {
		return nil, f.abort(log, StageSign, fmt.Errorf("signing reward offer: %w", err))
	}

	result, err := f.binding.RequestSubscription(ctx, platform.SubscriptionRequest{
		SKU:             productID,
		AppAccountToken: appUserID,
		Offer: &platform.Offer{
			Identifier:    offer.OfferID,
			KeyIdentifier: offer.KeyIdentifier,
			Nonce:         offer.Nonce,
			Signature:     offer.Signature,
			Timestamp:     offer.Timestamp,
		},
	})
	if err != nil {
		return nil, f.abort(log, StagePurchase, fmt.Errorf("purchasing reward offer: %w", err))
	}
	if result == nil || result.TransactionID == "" {
		f.metrics.Redemption(StageUnconfirmed)
		log.Warn("reward offer purchase returned no transaction; not redeemed")
		return result, ErrPurchaseNotConfirmed
	}

	if err := f.api.Post(ctx, EndpointRedeem, redeemRequest{RewardID: rewardID}, nil); err != nil {
		return result, f.abort(log, StageConfirm, fmt.Errorf("confirming redemption: %w", err))
	}

	f.metrics.Redemption(StageRedeemed)
	log.Info("reward redeemed", "transaction_id", result.TransactionID)
	return result, nil
}

func (f *Flow) abort(log *slog.Logger, stage string, err error) error {
	f.metrics.Redemption(stage)
	log.Error("redeeming reward failed", "stage", stage, "error", err)
	return err
}
