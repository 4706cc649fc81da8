package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/rewards"
)

// RewardsResult is the output of the rewards command.
type RewardsResult struct {
	ProductID string           `json:"product_id,omitempty"`
	Rewards   []rewards.Reward `json:"rewards"`
}

func (r RewardsResult) String() string {
	if len(r.Rewards) == 0 {
		return "No rewards available."
	}
	var b strings.Builder
	for i, reward := range r.Rewards {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\t%s", reward.RewardID, reward.OfferName)
	}
	return b.String()
}

// NewRewardsCommand creates the rewards command.
func NewRewardsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "List rewards for the active subscription",
		Long: `List the rewards the registered user can redeem on the active
subscription. Without a registered user or an active subscription the list
is empty.

Example:
  referral rewards --db ./referral.db --platform-fixture ./account.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, true, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				list, res := s.Client.GetRewards(ctx)
				if !res.IsOk() {
					return WrapExitError(ExitFailure, "listing rewards failed", res.Err)
				}
				return f.Success(RewardsResult{
					ProductID: s.Client.ActiveProduct(),
					Rewards:   list.Rewards,
				})
			})
		},
	}
}

// RedeemResult is the output of the redeem command.
type RedeemResult struct {
	RewardID      string `json:"reward_id"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
}

func (r RedeemResult) String() string {
	return fmt.Sprintf("Reward %s redeemed on %s (transaction %s)", r.RewardID, r.ProductID, r.TransactionID)
}

// NewRedeemCommand creates the redeem command.
func NewRedeemCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <reward-id>",
		Short: "Redeem a reward as a signed subscription offer",
		Long: `Redeem a reward: look the active product up in the store catalog, have
the backend sign an offer, purchase the subscription with it and, once the
purchase produced a transaction, confirm the redemption with the backend.

Example:
  referral redeem rw_1 --db ./referral.db --platform-fixture ./account.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, true, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				purchase, err := s.Client.RedeemRewardOffer(ctx, args[0])
				if err != nil {
					return err
				}
				return f.Success(RedeemResult{
					RewardID:      args[0],
					ProductID:     purchase.ProductID,
					TransactionID: purchase.TransactionID,
				})
			})
		},
	}
}
