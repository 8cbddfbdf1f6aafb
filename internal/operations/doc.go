// Package operations runs the pipeline as a sequence of dependent steps.
//
// The engine (Registry, Manager, OperationState, PipelineManifest) is
// generic: steps declare their dependencies and the manifest data they need,
// the Manager orders them with Kahn's algorithm, applies per-step timeouts
// and retries retryable failures, and skips the dependents of a failed step.
//
// The ETL is four steps:
//
//	extract -> silver -> gold -> load
//
// extract and silver fan out on an errgroup bounded by max_workers and
// isolate failures per source. gold refuses to run when the share of failed
// sources exceeds max_failed_source_ratio. gold and load failures abort the
// run.
//
// Orchestrator wires the steps to a Collector (the MetricsSink the steps
// report into) and turns the outcome into a domain.ExecutionReport, which is
// persisted to the gold layer as report_<run_id>.json:
//
//	orch, err := operations.NewFromConfig(ctx, cfg, tracer, logger)
//	report, err := orch.Run(ctx)
package operations
