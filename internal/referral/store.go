// Package referral manages the device's referral link and registered user.
//
// Both records live in the key-value store under fixed key names. Each is
// written with a single SetMany so a reader never sees half of one.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/sdkerr"
)

// Persisted key names. The spellings are stable across releases; changing
// them orphans existing device state.
const (
	KeyReferralCode     = "APPOAUR_SDK_REFERRAL_CODE"
	KeyReferredByUserID = "APPOAUR_SDK_REFERRED_BY_USER_ID"
	KeyUserID           = "APPOAUR_SDK_USER_ID"
	KeyUserCode         = "APPOAUR_SDK_USER_CODE"
)

// Backend endpoints.
const (
	EndpointValidate = "/referral/validate"
	EndpointRegister = "/referral/register"
)

// API is the subset of apiclient.Client the store needs.
type API interface {
	Post(ctx context.Context, endpoint string, body, out any) error
}

// Link is a validated referral code and the app user who owns it.
type Link struct {
	Code             string
	ReferredByUserID string
}

// User is the locally registered app user.
type User struct {
	AppUserID string
	Code      string
}

// RegisterRequest identifies the app's own user to the backend.
type RegisterRequest struct {
	UserID                string
	OriginalTransactionID string
}

// RegisterResponse is the backend's registration record.
type RegisterResponse struct {
	AppID          string `json:"app_id"`
	ExternalUserID string `json:"external_user_id"`
	AppUserID      string `json:"app_user_id"`
	Code           string `json:"code"`
	CreatedAt      string `json:"created_at,omitempty"`
}

type validateRequest struct {
	Code string `json:"code"`
}

type validateResponse struct {
	ReferredAppUserID string `json:"referred_app_user_id"`
}

type registerRequest struct {
	ExternalUserID        string `json:"external_user_id"`
	OriginalTransactionID string `json:"original_transaction_id,omitempty"`
	ReferredAppUserID     string `json:"referred_app_user_id,omitempty"`
}

// Store reads and writes referral state.
//
// Thread-safety: safe for concurrent use; atomicity of each record is
// delegated to kv.Store.SetMany.
type Store struct {
	kv  kv.Store
	api API
	log *slog.Logger
}

// NewStore creates a Store. A nil logger uses slog.Default().
func NewStore(store kv.Store, api API, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: store, api: api, log: logger}
}

// NormalizeCode trims surrounding space and applies Unicode NFC so the same
// code typed on different keyboards compares equal.
func NormalizeCode(code string) string {
	return norm.NFC.String(strings.TrimSpace(code))
}

// ValidateReferralCode asks the backend who owns code.
//
// If nobody does (unknown or self-referral) it returns false and changes
// nothing. Otherwise the link is persisted as one commit and it returns true.
// Request and store failures are returned.
func (s *Store) ValidateReferralCode(ctx context.Context, code string) (bool, error) {
	code = NormalizeCode(code)
	if code == "" {
		return false, sdkerr.Precondition(sdkerr.ReasonMissingArgument, "referral code is empty")
	}

	var resp validateResponse
	if err := s.api.Post(ctx, EndpointValidate, validateRequest{Code: code}, &resp); err != nil {
		return false, fmt.Errorf("validating referral code: %w", err)
	}
	if resp.ReferredAppUserID == "" {
		s.log.Debug("referral code not accepted", "code", code)
		return false, nil
	}

	err := s.kv.SetMany(ctx, map[string]string{
		KeyReferralCode:     code,
		KeyReferredByUserID: resp.ReferredAppUserID,
	})
	if err != nil {
		return false, fmt.Errorf("saving referral link: %w", err)
	}
	s.log.Info("referral code accepted", "code", code, "referred_by", resp.ReferredAppUserID)
	return true, nil
}

// Link returns the persisted referral link. A link with only one of its two
// keys present is reported as absent.
func (s *Store) Link(ctx context.Context) (Link, bool, error) {
	code, okCode, err := s.kv.Get(ctx, KeyReferralCode)
	if err != nil {
		return Link{}, false, fmt.Errorf("reading referral code: %w", err)
	}
	referrer, okReferrer, err := s.kv.Get(ctx, KeyReferredByUserID)
	if err != nil {
		return Link{}, false, fmt.Errorf("reading referrer id: %w", err)
	}
	if !okCode || !okReferrer || code == "" || referrer == "" {
		return Link{}, false, nil
	}
	return Link{Code: code, ReferredByUserID: referrer}, true, nil
}

// ClearReferralCode removes the referral link. It is idempotent and never
// fails; store errors are logged.
func (s *Store) ClearReferralCode(ctx context.Context) {
	if err := s.kv.Remove(ctx, KeyReferralCode, KeyReferredByUserID); err != nil {
		s.log.Error("clearing referral code failed", "error", err)
	}
}

// RegisterUser registers req with the backend, carrying the current referrer
// if a link exists, and persists the returned identity.
//
// Registration is best-effort: every failure is logged and reported as a
// Recoverable result, and a failure never replaces an existing User.
func (s *Store) RegisterUser(ctx context.Context, req RegisterRequest) (*RegisterResponse, outcome.Result) {
	if req.UserID == "" {
		err := sdkerr.Precondition(sdkerr.ReasonMissingArgument, "user id is empty")
		s.log.Error("registering user failed", "error", err)
		return nil, outcome.Recover(err)
	}

	link, _, err := s.Link(ctx)
	if err != nil {
		s.log.Error("registering user failed", "user_id", req.UserID, "error", err)
		return nil, outcome.Recover(err)
	}

	body := registerRequest{
		ExternalUserID:        req.UserID,
		OriginalTransactionID: req.OriginalTransactionID,
		ReferredAppUserID:     link.ReferredByUserID,
	}
	var resp RegisterResponse
	if err := s.api.Post(ctx, EndpointRegister, body, &resp); err != nil {
		s.log.Error("registering user failed", "user_id", req.UserID, "error", err)
		return nil, outcome.Recover(fmt.Errorf("registering user: %w", err))
	}
	if resp.AppUserID == "" {
		err := sdkerr.Parse(EndpointRegister, errors.New("response has no app_user_id"))
		s.log.Error("registering user failed", "user_id", req.UserID, "error", err)
		return nil, outcome.Recover(err)
	}

	err = s.kv.SetMany(ctx, map[string]string{
		KeyUserID:   resp.AppUserID,
		KeyUserCode: resp.Code,
	})
	if err != nil {
		s.log.Error("saving registered user failed", "app_user_id", resp.AppUserID, "error", err)
		return nil, outcome.Recover(fmt.Errorf("saving registered user: %w", err))
	}

	s.log.Info("user registered",
		"app_user_id", resp.AppUserID,
		"app_id", resp.AppID,
		"external_user_id", resp.ExternalUserID,
		"referred", link.ReferredByUserID != "",
	)
	return &resp, outcome.OK()
}

// User returns the registered user. ok is false until registration succeeds.
func (s *Store) User(ctx context.Context) (User, bool, error) {
	id, ok, err := s.AppUserID(ctx)
	if err != nil || !ok {
		return User{}, false, err
	}
	code, _, err := s.kv.Get(ctx, KeyUserCode)
	if err != nil {
		return User{}, false, fmt.Errorf("reading user code: %w", err)
	}
	return User{AppUserID: id, Code: code}, true, nil
}

// AppUserID returns the registered user's backend id.
func (s *Store) AppUserID(ctx context.Context) (string, bool, error) {
	id, ok, err := s.kv.Get(ctx, KeyUserID)
	if err != nil {
		return "", false, fmt.Errorf("reading app user id: %w", err)
	}
	if !ok || id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// RegisteredUserReferralCode returns the registered user's own referral code.
// It fails only when the store does.
func (s *Store) RegisteredUserReferralCode(ctx context.Context) (string, bool, error) {
	code, ok, err := s.kv.Get(ctx, KeyUserCode)
	if err != nil {
		return "", false, fmt.Errorf("reading registered user code: %w", err)
	}
	return code, ok, nil
}
