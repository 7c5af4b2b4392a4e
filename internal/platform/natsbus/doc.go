// Package natsbus connects the task runner to NATS JetStream.
//
// It provides a durable consumer that turns messages on the submission
// subject into task submissions, a publisher for task completions, a
// key-value backed task state store, and an object store used to fetch
// source videos and keep extracted frames.
package natsbus
