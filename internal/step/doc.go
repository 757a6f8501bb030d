// Package step is the execution shape shared by every pipeline stage.
//
// A Logic implements the business work of one stage. Execute wraps it with
// an import log row, named metrics, work-claim cleanup and a structured
// "step complete" log line:
//
//	report, err := step.Execute(ctx, deps, preapproval.New(...))
//
// The import log is written outside any unit of work, so a run that fails
// half way still records the metrics it collected. Inside RunStep, work is
// committed one entity at a time through Run.ForEach and Run.InTx; a failure
// on one entity is logged and counted and the loop moves on.
//
// # Errors
//
// Only a *FatalError (missing required input, corrupt file header, bad
// configuration) or context cancellation stops a run. Anything else returned
// for a single entity is isolated to that entity.
package step
