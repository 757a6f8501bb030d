package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/pipeline"
	"github.com/roach88/disburse/internal/state"
)

// StepInfo describes one pipeline step.
type StepInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StateInfo describes one catalog state.
type StateInfo struct {
	Flow       string `json:"flow"`
	EntityType string `json:"entity_type"`
	State      string `json:"state"`
	Terminal   bool   `json:"terminal"`
}

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "steps",
		Short:         "List pipeline steps in run order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := make([]StepInfo, len(pipeline.Order))
			for i, name := range pipeline.Order {
				steps[i] = StepInfo{Name: name, Description: pipeline.Describe(name)}
			}
			return rootOpts.formatter(cmd).Success(steps, func(w io.Writer) {
				for _, s := range steps {
					fmt.Fprintf(w, "%-30s %s\n", s.Name, s.Description)
				}
			})
		},
	}
}

// NewStatesCommand creates the states command.
func NewStatesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "states",
		Short:         "List every flow and state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := state.All()
			states := make([]StateInfo, len(all))
			for i, s := range all {
				states[i] = StateInfo{
					Flow:       string(s.Flow),
					EntityType: string(state.EntityTypeOf(s.Flow)),
					State:      s.Name,
					Terminal:   s.Terminal,
				}
			}
			return rootOpts.formatter(cmd).Success(states, func(w io.Writer) {
				var flow string
				for _, s := range states {
					if s.Flow != flow {
						flow = s.Flow
						fmt.Fprintf(w, "%s (%s)\n", s.Flow, s.EntityType)
					}
					marker := ""
					if s.Terminal {
						marker = " [terminal]"
					}
					fmt.Fprintf(w, "  %s%s\n", s.State, marker)
				}
			})
		},
	}
}
