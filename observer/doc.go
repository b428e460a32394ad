// Package observer provides pipeline.Observer implementations and parked-run
// persistence backed by a store.Store.
//
//   - MetadataObserver: records runs, step runs and artifacts so the CLI can
//     list them and the Resumer can pick parked runs up again.
//   - LogObserver and MetricsObserver: zap log lines and Prometheus metrics
//     per pipeline and step.
//   - ParkedRunStore: persists pipeline.ParkedRun (from ParkStepAfter or
//     Retry). Use PersistFunc with either.
//   - Resumer: runs the remaining steps of parked runs whose resume time has
//     passed. Call RunDue periodically, e.g. from `mlpipe pipeline runs resume`.
//
// Retries and max attempts:
//
// Pass AttemptStore(s) to pipeline.ExponentialBackoffPersist and set
// ExponentialBackoffPolicy.MaxAttempts so the attempt count lives in the store
// and runs stop retrying after the limit, across restarts.
package observer
