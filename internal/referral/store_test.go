package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/outcome"
	"github.com/roach88/referral/internal/sdkerr"
	"github.com/roach88/referral/internal/testutil"
)

func newTestStore(t *testing.T, seed map[string]string) (*Store, *kv.Memory, *testutil.FakeAPI) {
	t.Helper()
	mem := kv.NewMemory(seed)
	api := testutil.NewFakeAPI()
	return NewStore(mem, api, nil), mem, api
}

func TestValidateReferralCode_Accepted(t *testing.T) {
	ctx := context.Background()
	s, mem, api := newTestStore(t, nil)
	api.Reply(EndpointValidate, map[string]any{"referred_app_user_id": "au_ref"})

	ok, err := s.ValidateReferralCode(ctx, "  FRIEND10 ")
	require.NoError(t, err)
	assert.True(t, ok)

	calls := api.CallsTo(EndpointValidate)
	require.Len(t, calls, 1)
	assert.Equal(t, "FRIEND10", calls[0].Body["code"])

	assert.Equal(t, map[string]string{
		KeyReferralCode:     "FRIEND10",
		KeyReferredByUserID: "au_ref",
	}, mem.Snapshot())

	link, found, err := s.Link(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, Link{Code: "FRIEND10", ReferredByUserID: "au_ref"}, link)
}

func TestValidateReferralCode_NoReferrerPersistsNothing(t *testing.T) {
	s, mem, api := newTestStore(t, nil)
	api.Reply(EndpointValidate, map[string]any{})

	ok, err := s.ValidateReferralCode(context.Background(), "SELF")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, mem.Snapshot())
	assert.Zero(t, mem.Writes())
}

func TestValidateReferralCode_RequestFailure(t *testing.T) {
	s, mem, api := newTestStore(t, nil)
	api.Fail(EndpointValidate, sdkerr.Request(EndpointValidate, 503, nil))

	ok, err := s.ValidateReferralCode(context.Background(), "CODE")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, sdkerr.IsRequest(err))
	assert.Empty(t, mem.Snapshot())
}

func TestValidateReferralCode_StoreFailureLeavesNoPartialLink(t *testing.T) {
	s, mem, api := newTestStore(t, nil)
	api.Reply(EndpointValidate, map[string]any{"referred_app_user_id": "au_ref"})
	mem.SetManyErr = errors.New("disk full")

	ok, err := s.ValidateReferralCode(context.Background(), "CODE")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, mem.Snapshot())

	_, found, err := s.Link(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestValidateReferralCode_NormalizesToNFC(t *testing.T) {
	s, mem, api := newTestStore(t, nil)
	api.Reply(EndpointValidate, map[string]any{"referred_app_user_id": "au_ref"})

	// "E" followed by a combining acute accent
	_, err := s.ValidateReferralCode(context.Background(), "CAFE\u0301")
	require.NoError(t, err)

	assert.Equal(t, "CAF\u00c9", api.CallsTo(EndpointValidate)[0].Body["code"])
	assert.Equal(t, "CAF\u00c9", mem.Snapshot()[KeyReferralCode])
}

func TestValidateReferralCode_EmptyCode(t *testing.T) {
	s, _, api := newTestStore(t, nil)

	_, err := s.ValidateReferralCode(context.Background(), "   ")
	assert.True(t, sdkerr.HasReason(err, sdkerr.ReasonMissingArgument))
	assert.Empty(t, api.Calls())
}

func TestLink_PartialIsAbsent(t *testing.T) {
	s, _, _ := newTestStore(t, map[string]string{KeyReferralCode: "ORPHAN"})

	_, found, err := s.Link(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClearReferralCode(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t, map[string]string{
		KeyReferralCode:     "CODE",
		KeyReferredByUserID: "au_ref",
		KeyUserID:           "au_1",
	})

	s.ClearReferralCode(ctx)
	s.ClearReferralCode(ctx)

	assert.Equal(t, map[string]string{KeyUserID: "au_1"}, mem.Snapshot())
}

func TestClearReferralCode_FailureIsSwallowed(t *testing.T) {
	s, mem, _ := newTestStore(t, map[string]string{KeyReferralCode: "CODE"})
	mem.RemoveErr = errors.New("locked")

	assert.NotPanics(t, func() { s.ClearReferralCode(context.Background()) })
}

func TestRegisterUser_WithReferrer(t *testing.T) {
	ctx := context.Background()
	s, mem, api := newTestStore(t, map[string]string{
		KeyReferralCode:     "CODE",
		KeyReferredByUserID: "au_ref",
	})
	api.Reply(EndpointRegister, map[string]any{
		"app_id":           "app_1",
		"external_user_id": "u1",
		"app_user_id":      "au_1",
		"code":             "C1",
	})

	resp, res := s.RegisterUser(ctx, RegisterRequest{UserID: "u1", OriginalTransactionID: "otx_9"})
	require.True(t, res.IsOk(), "result: %v", res.Err)
	require.NotNil(t, resp)
	assert.Equal(t, "app_1", resp.AppID)

	calls := api.CallsTo(EndpointRegister)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{
		"external_user_id":        "u1",
		"original_transaction_id": "otx_9",
		"referred_app_user_id":    "au_ref",
	}, calls[0].Body)

	assert.Equal(t, "au_1", mem.Snapshot()[KeyUserID])
	code, ok, err := s.RegisteredUserReferralCode(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "C1", code)
}

func TestRegisterUser_WithoutReferrerOmitsOptionalFields(t *testing.T) {
	s, _, api := newTestStore(t, nil)
	api.Reply(EndpointRegister, map[string]any{"app_user_id": "au_1", "code": "C1"})

	_, res := s.RegisterUser(context.Background(), RegisterRequest{UserID: "u1"})
	require.True(t, res.IsOk())

	assert.Equal(t, map[string]any{"external_user_id": "u1"}, api.CallsTo(EndpointRegister)[0].Body)
}

func TestRegisterUser_FailureIsRecoverable(t *testing.T) {
	ctx := context.Background()
	seed := map[string]string{KeyUserID: "au_old", KeyUserCode: "OLD"}

	tests := []struct {
		name  string
		setup func(mem *kv.Memory, api *testutil.FakeAPI)
	}{
		{
			name: "request fails",
			setup: func(_ *kv.Memory, api *testutil.FakeAPI) {
				api.Fail(EndpointRegister, sdkerr.Request(EndpointRegister, 500, nil))
			},
		},
		{
			name: "response has no app user id",
			setup: func(_ *kv.Memory, api *testutil.FakeAPI) {
				api.Reply(EndpointRegister, map[string]any{"code": "C1"})
			},
		},
		{
			name: "store write fails",
			setup: func(mem *kv.Memory, api *testutil.FakeAPI) {
				api.Reply(EndpointRegister, map[string]any{"app_user_id": "au_new", "code": "NEW"})
				mem.SetManyErr = errors.New("disk full")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem, api := newTestStore(t, seed)
			tt.setup(mem, api)

			resp, res := s.RegisterUser(ctx, RegisterRequest{UserID: "u1"})

			assert.Nil(t, resp)
			assert.Equal(t, outcome.Recoverable, res.Kind)
			assert.Error(t, res.Err)
			assert.NoError(t, res.FatalErr())

			user, ok, err := s.User(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, User{AppUserID: "au_old", Code: "OLD"}, user)
		})
	}
}

func TestRegisterUser_EmptyUserID(t *testing.T) {
	s, _, api := newTestStore(t, nil)

	_, res := s.RegisterUser(context.Background(), RegisterRequest{})
	assert.Equal(t, outcome.Recoverable, res.Kind)
	assert.True(t, sdkerr.HasReason(res.Err, sdkerr.ReasonMissingArgument))
	assert.Empty(t, api.Calls())
}

func TestRegisteredUserReferralCode(t *testing.T) {
	ctx := context.Background()

	s, _, _ := newTestStore(t, nil)
	_, ok, err := s.RegisteredUserReferralCode(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	s, mem, _ := newTestStore(t, map[string]string{KeyUserCode: "C1"})
	mem.GetErr = errors.New("unavailable")
	_, _, err = s.RegisteredUserReferralCode(ctx)
	assert.Error(t, err)
}

func TestUser_Absent(t *testing.T) {
	s, _, _ := newTestStore(t, map[string]string{KeyUserCode: "C1"})

	_, ok, err := s.User(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
