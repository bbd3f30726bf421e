// Package engine turns matched events into recorded runs.
//
// The Orchestrator owns a run's lifecycle: Start creates it Running and
// Complete moves it to a terminal status, retrying persistence failures
// with bounded backoff. The Pipeline is the supervisor's worker: while
// attached it consumes the event bus, asks the trigger dispatcher for
// matches, queues one ExecutionRequest per match, and drains the queue by
// starting runs and executing them concurrently.
//
// Detaching the pipeline stops intake. Events already delivered are
// matched and their requests started before detach returns. Runs already
// started keep executing and complete on their own; requests whose start
// failed wait for the next attach. Runs that never complete are left
// Running for startup reconciliation.
package engine
