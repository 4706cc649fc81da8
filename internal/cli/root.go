package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "text" | "json"

	ConfigFile      string
	EnvFile         string
	APIKey          string
	BaseURL         string
	Database        string
	Redis           string
	PlatformFixture string
	RecordPolicy    string

	// Metrics dumps the session's Prometheus counters to stderr after the command.
	Metrics bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the referral CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Referral attribution client",
		Long: `A client for the referral backend: validates referral codes, registers
users, reports purchases once per transaction and redeems reward offers.

Platform purchases come from a fixture file (--platform-fixture) describing
the store account. State persists in SQLite (--db) or Redis (--redis);
without either it lives for a single command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			if opts.Database != "" && opts.Redis != "" {
				return NewExitError(ExitCommandError, "--db and --redis are mutually exclusive")
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format on stderr (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	flags.StringVar(&opts.EnvFile, "env-file", "", "path to .env file (default .env)")
	flags.StringVar(&opts.APIKey, "api-key", "", "backend API key (overrides REFERRAL_API_KEY)")
	flags.StringVar(&opts.BaseURL, "base-url", "", "backend base URL")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite state database")
	flags.StringVar(&opts.Redis, "redis", "", "Redis URL for shared state")
	flags.StringVar(&opts.PlatformFixture, "platform-fixture", "", "YAML file describing the store account")
	flags.StringVar(&opts.RecordPolicy, "record-policy", "", "when to record a transaction (after-attempt|after-success)")
	flags.BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics to stderr after the command")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewValidateCodeCommand(opts))
	cmd.AddCommand(NewClearCodeCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewCodeCommand(opts))
	cmd.AddCommand(NewAttributeCommand(opts))
	cmd.AddCommand(NewProcessedCommand(opts))
	cmd.AddCommand(NewRewardsCommand(opts))
	cmd.AddCommand(NewRedeemCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
