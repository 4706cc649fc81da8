package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Op string // optional - filter to one operation
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Timeline []harness.TraceEvent `json:"timeline"`
	Errors   []string             `json:"errors,omitempty"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Operations  int `json:"operations"`
	Requests    int `json:"requests"`
	Retries     int `json:"retries"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario.yaml>",
		Short: "Show the request timeline of a scenario",
		Long: `Run one scenario against a scripted backend and show every operation
together with the backend requests it caused.

Requests sharing a request id are retries of one logical request.

Examples:
  referral trace ./scenarios/referred_purchase.yaml
  referral trace ./scenarios/referred_purchase.yaml --op attribute
  referral trace ./scenarios/referred_purchase.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", "", "only show events of this operation")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Op != "" {
		if _, ok := harness.Ops[opts.Op]; !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown op %q", opts.Op))
		}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	trace := TraceResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Timeline: filterTimeline(result.Trace, opts.Op),
		Errors:   result.Errors,
		Stats:    traceStats(result.Trace),
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: trace})
	}
	return outputTraceText(cmd.OutOrStdout(), trace, opts.Verbose)
}

// filterTimeline keeps the events of one operation, including the requests
// made between its invoke and complete events.
func filterTimeline(events []harness.TraceEvent, op string) []harness.TraceEvent {
	if op == "" {
		return events
	}
	var out []harness.TraceEvent
	inside := false
	for _, e := range events {
		if e.Type == harness.EventInvoke {
			inside = e.Op == op
		}
		if inside {
			out = append(out, e)
		}
		if e.Type == harness.EventComplete {
			inside = false
		}
	}
	return out
}

func traceStats(events []harness.TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	seen := make(map[string]bool)
	for _, e := range events {
		switch e.Type {
		case harness.EventInvoke:
			stats.Operations++
		case harness.EventRequest:
			stats.Requests++
			if seen[e.RequestID] {
				stats.Retries++
			}
			seen[e.RequestID] = true
		}
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Scenario: %s\n", result.Scenario)
	fmt.Fprintf(w, "Status: %s\n", passStatus(result.Pass))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Operations:   %d\n", result.Stats.Operations)
	fmt.Fprintf(w, "  Requests:     %d\n", result.Stats.Requests)
	fmt.Fprintf(w, "  Retries:      %d\n", result.Stats.Retries)
	return nil
}

func formatTimelineEvent(w io.Writer, event harness.TraceEvent, verbose bool) {
	switch event.Type {
	case harness.EventInvoke:
		fmt.Fprintf(w, "  [%d] %s %s\n", event.Seq, event.Op, formatArgs(event.Args))
	case harness.EventRequest:
		fmt.Fprintf(w, "  [%d]   -> %s %s (%s)\n", event.Seq, event.Method, event.Endpoint, event.RequestID)
		if verbose && len(event.Body) > 0 {
			body, _ := json.Marshal(event.Body)
			fmt.Fprintf(w, "         Body: %s\n", body)
		}
	case harness.EventComplete:
		line := fmt.Sprintf("  [%d] %s: %s", event.Seq, event.Op, event.Outcome)
		if event.Code != "" {
			line += " [" + event.Code + "]"
		}
		if event.Value != "" {
			line += " = " + event.Value
		}
		fmt.Fprintln(w, line)
	}
}

// formatArgs renders args as k=v pairs in key order.
func formatArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + args[k]
	}
	return strings.Join(parts, " ")
}

func passStatus(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}
