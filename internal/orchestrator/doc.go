// Package orchestrator runs agent tasks step by step.
//
// An Orchestrator walks a fixed, configured step order for each task, skipping
// steps already recorded in the task's persisted state machine. Each step runs
// while holding a permit from a shared PermitPool, which bounds how many steps
// across all tasks call into downstream services at once. Progress is persisted
// after every step so a restarted process resumes a task from its first
// unexecuted step.
//
// The Runner wraps an Orchestrator with a persisted submission queue, a fixed
// worker pool, crash recovery on start, and a monitor that resumes tasks left
// RUNNING by a dead process.
package orchestrator
