package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/referral"
)

// InitResult is the output of the init command.
type InitResult struct {
	ActiveProduct string `json:"active_product"`
}

func (r InitResult) String() string {
	if r.ActiveProduct == "" {
		return "Initialized (no active subscription)"
	}
	return fmt.Sprintf("Initialized (active product: %s)", r.ActiveProduct)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Validate the API key and discover the active subscription",
		Long: `Initialize a session: check the platform, open the purchase connection,
validate the API key with the backend and discover the active subscription
from the store account.

Example:
  referral init --api-key $KEY --platform-fixture ./account.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, true, func(_ context.Context, s *Session, f *OutputFormatter) error {
				return f.Success(InitResult{ActiveProduct: s.Client.ActiveProduct()})
			})
		},
	}
}

// ValidateCodeResult is the output of the validate-code command.
type ValidateCodeResult struct {
	Code     string `json:"code"`
	Accepted bool   `json:"accepted"`
}

func (r ValidateCodeResult) String() string {
	if r.Accepted {
		return fmt.Sprintf("Referral code %s accepted", r.Code)
	}
	return fmt.Sprintf("Referral code %s not accepted", r.Code)
}

// NewValidateCodeCommand creates the validate-code command.
func NewValidateCodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-code <code>",
		Short: "Validate a referral code and store the referral link",
		Long: `Ask the backend who owns a referral code. An accepted code is stored
together with the referrer and sent along when the user registers.

Example:
  referral validate-code FRIEND1 --db ./referral.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, true, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				ok, err := s.Client.ValidateReferralCode(ctx, args[0])
				if err != nil {
					return err
				}
				return f.Success(ValidateCodeResult{Code: referral.NormalizeCode(args[0]), Accepted: ok})
			})
		},
	}
}

// ClearCodeResult is the output of the clear-code command.
type ClearCodeResult struct {
	Cleared bool `json:"cleared"`
}

func (ClearCodeResult) String() string { return "Referral code cleared" }

// NewClearCodeCommand creates the clear-code command.
func NewClearCodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-code",
		Short: "Forget the stored referral link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, false, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				s.Client.ClearReferralCode(ctx)
				return f.Success(ClearCodeResult{Cleared: true})
			})
		},
	}
}

// RegisterResult is the output of the register command.
type RegisterResult struct {
	AppUserID      string `json:"app_user_id"`
	Code           string `json:"code"`
	AppID          string `json:"app_id,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

func (r RegisterResult) String() string {
	return fmt.Sprintf("Registered %s (referral code: %s)", r.AppUserID, r.Code)
}

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	OriginalTransactionID string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <user-id>",
		Short: "Register the app's user with the backend",
		Long: `Register a user. If a referral code was validated earlier, the referrer
is sent along. The assigned app user id and the user's own referral code are
stored for later commands.

Example:
  referral register u1 --original-transaction-id 2000000123 --db ./referral.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts.RootOptions, cmd, true, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				resp, res := s.Client.RegisterUser(ctx, referral.RegisterRequest{
					UserID:                args[0],
					OriginalTransactionID: opts.OriginalTransactionID,
				})
				if !res.IsOk() {
					return WrapExitError(ExitFailure, "registration failed", res.Err)
				}
				return f.Success(RegisterResult{
					AppUserID:      resp.AppUserID,
					Code:           resp.Code,
					AppID:          resp.AppID,
					ExternalUserID: resp.ExternalUserID,
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.OriginalTransactionID, "original-transaction-id", "", "original transaction id of the user's subscription")

	return cmd
}

// CodeResult is the output of the code command.
type CodeResult struct {
	Code string `json:"code"`
}

func (r CodeResult) String() string { return r.Code }

// NewCodeCommand creates the code command.
func NewCodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "code",
		Short: "Print the registered user's own referral code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, false, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				code, ok, err := s.Client.RegisteredUserReferralCode(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return NewExitError(ExitFailure, "no registered user")
				}
				return f.Success(CodeResult{Code: code})
			})
		},
	}
}
