// Package orchestrator drives coding agents through a project's backlog.
//
// A Scheduler repeatedly dispatches task runs under the project's
// concurrency limit. Each run is handled by the Orchestrator:
//
//   - Choose: a selection agent picks a task and writes task.json
//   - Claim: the task moves to in-progress and the backlog confirms it
//   - Work: the worker agent (and optionally a reviewer) runs under the
//     liveness supervisor and the run timeout
//   - Integrate: the project's git flow strategy lands the work
//
// Selection is serialized: the scheduler waits on each run's Handshake,
// which resolves once the claim is confirmed, before dispatching the next.
// Execution then proceeds in parallel. A watcher cancels a run whose task
// changes state in the backlog under it; in that case the run does not
// roll the task back.
package orchestrator
