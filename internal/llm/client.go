package llm

import "context"

// Client is a multimodal language model.
type Client interface {
	// Infer sends the prompt together with an image and any OCR text already
	// read from that image. imageURL and ocrText may be empty.
	Infer(ctx context.Context, prompt, imageURL, ocrText string) (string, error)

	// Generate sends a text-only prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}
