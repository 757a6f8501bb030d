package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Flow string // optional - filter to one flow
}

// TraceEvent is one transition in an entity's history.
type TraceEvent struct {
	ID          int64          `json:"id"`
	Flow        string         `json:"flow"`
	StartState  string         `json:"start_state,omitempty"`
	EndState    string         `json:"end_state"`
	Outcome     map[string]any `json:"outcome"`
	ImportLogID int64          `json:"import_log_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Flow       string       `json:"flow,omitempty"`
	Timeline   []TraceEvent `json:"timeline"`
	Current    []string     `json:"current"` // latest state per flow
}

var entityTypes = map[string]model.EntityType{
	string(model.EntityEmployee): model.EntityEmployee,
	string(model.EntityEmployer): model.EntityEmployer,
	string(model.EntityClaim):    model.EntityClaim,
	string(model.EntityPayment):  model.EntityPayment,
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <entity-type> <id>",
		Short: "Show the state history of an entity",
		Long: `Show every state log transition recorded for an entity, oldest first.

Entity types: employee, employer, claim, payment.

Examples:
  disburse trace payment 0190f3c2-7a4e-7b1c-9d2e-3f4a5b6c7d8e
  disburse trace payment 0190f3c2-7a4e-7b1c-9d2e-3f4a5b6c7d8e --flow payment_writeback
  disburse trace employee 0190f3c2-1111-7b1c-9d2e-3f4a5b6c7d8e --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "filter to one flow")

	return cmd
}

func runTrace(opts *TraceOptions, typeName, id string, cmd *cobra.Command) error {
	entityType, ok := entityTypes[typeName]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown entity type %q: must be employee, employer, claim or payment", typeName))
	}
	flow := state.Flow(opts.Flow)
	if flow != "" && state.EntityTypeOf(flow) != entityType {
		return NewExitError(ExitCommandError, fmt.Sprintf("flow %q does not track %s entities", opts.Flow, entityType))
	}

	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	ref := model.Ref{Type: entityType, ID: id}
	entries, err := statelog.History(commandContext(cmd), sess.store.DB(), ref, flow)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read state history", err)
	}

	result := buildTrace(ref, flow, entries)
	return opts.formatter(cmd).Success(result, func(w io.Writer) { printTrace(w, result, opts.Verbose) })
}

// buildTrace converts state log entries to the trace timeline and derives
// the current state of each flow the entity appears in.
func buildTrace(ref model.Ref, flow state.Flow, entries []statelog.Entry) TraceResult {
	result := TraceResult{
		EntityType: string(ref.Type),
		EntityID:   ref.ID,
		Flow:       string(flow),
		Timeline:   make([]TraceEvent, len(entries)),
		Current:    []string{},
	}
	latest := map[state.Flow]string{}
	var flows []state.Flow
	for i, e := range entries {
		result.Timeline[i] = TraceEvent{
			ID:          e.ID,
			Flow:        string(e.Flow),
			StartState:  e.StartState.Name,
			EndState:    e.EndState.Name,
			Outcome:     e.Outcome,
			ImportLogID: e.ImportLogID,
			CreatedAt:   e.CreatedAt,
		}
		if _, seen := latest[e.Flow]; !seen {
			flows = append(flows, e.Flow)
		}
		latest[e.Flow] = e.EndState.Name
	}
	for _, f := range flows {
		result.Current = append(result.Current, latest[f])
	}
	return result
}

func printTrace(w io.Writer, result TraceResult, verbose bool) {
	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No state history for %s %s\n", result.EntityType, result.EntityID)
		return
	}
	fmt.Fprintf(w, "%s %s\n", result.EntityType, result.EntityID)
	for _, e := range result.Timeline {
		from := e.StartState
		if from == "" {
			from = "(start)"
		}
		fmt.Fprintf(w, "  #%d %s %s: %s -> %s", e.ID, e.CreatedAt.Format(time.RFC3339), e.Flow, from, e.EndState)
		if msg, _ := e.Outcome[statelog.KeyMessage].(string); msg != "" {
			fmt.Fprintf(w, " (%s)", msg)
		}
		fmt.Fprintln(w)
		if verbose {
			body, err := statelog.Outcome(e.Outcome).Encode()
			if err == nil {
				fmt.Fprintf(w, "      outcome %s\n", body)
			}
		}
	}
	fmt.Fprintf(w, "current: %v\n", result.Current)
}
