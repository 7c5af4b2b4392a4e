// Package events carries task submission requests from their sources (the HTTP
// API, the message broker consumer) to the handlers that start tasks, without
// the sources depending on the task runner.
//
// The primary components are:
// - TaskRequestEvent: a request to start an agent task
// - EventHandler: interface for components that can handle events
// - EventEmitter: interface for components that can emit events
package events
