package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/outcome"
)

// AttributeResult is the output of the attribute command.
type AttributeResult struct {
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
}

func (r AttributeResult) String() string {
	return fmt.Sprintf("Purchase %s (%s): %s", r.TransactionID, r.ProductID, r.Outcome)
}

// NewAttributeCommand creates the attribute command.
func NewAttributeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attribute <product-id> <transaction-id>",
		Short: "Report a purchase for the registered user",
		Long: `Report a purchase to the backend. Each transaction id is reported at
most once; repeating the command for the same id is a no-op. Without a
registered user nothing is sent.

Exit codes:
  0 - Reported, already reported, or no registered user
  1 - The report failed or the state store failed

Example:
  referral attribute pro_monthly 2000000123 --db ./referral.db`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, true, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				res := s.Client.AttributePurchase(ctx, args[0], args[1])
				switch res.Kind {
				case outcome.Ok:
					return f.Success(AttributeResult{
						ProductID:     args[0],
						TransactionID: args[1],
						Outcome:       res.Kind.String(),
					})
				case outcome.Recoverable:
					return WrapExitError(ExitFailure, "purchase not reported", res.Err)
				default:
					return WrapExitError(ExitFailure, "attribution failed", res.Err)
				}
			})
		},
	}
}

// ProcessedResult is the output of the processed command.
type ProcessedResult struct {
	TransactionIDs []string `json:"transaction_ids"`
}

func (r ProcessedResult) String() string {
	if len(r.TransactionIDs) == 0 {
		return "No processed transactions."
	}
	return strings.Join(r.TransactionIDs, "\n")
}

// NewProcessedCommand creates the processed command.
func NewProcessedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "processed",
		Short: "List transaction ids already reported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, false, func(ctx context.Context, s *Session, f *OutputFormatter) error {
				ids, err := s.Client.ProcessedTransactions(ctx)
				if err != nil {
					return err
				}
				return f.Success(ProcessedResult{TransactionIDs: ids})
			})
		},
	}
}
