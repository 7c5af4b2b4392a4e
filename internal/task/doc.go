// Package task defines the data model shared by every part of an agent task run:
// the task-scoped TaskContext threaded through each step, the persisted
// TaskStateMachine recording which steps have completed, the StepExecutor
// contract that concrete steps implement, and the TaskStateStore contract used
// to snapshot progress so that a restarted process can resume a task from its
// last completed step.
package task
