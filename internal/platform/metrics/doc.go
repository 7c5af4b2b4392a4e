// Package metrics exports orchestrator timing and counter events as
// Prometheus collectors.
//
// Task ids are dropped from the label set; per-task detail belongs in logs
// and traces.
package metrics
