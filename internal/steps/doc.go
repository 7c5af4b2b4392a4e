// Package steps provides the built-in task steps: FrameExtract turns a video
// into still frames and Inference asks a multimodal model about them. Both
// implement task.StepExecutor and task.RequestBuilder.
package steps
