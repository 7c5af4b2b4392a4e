package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/agentrun/internal/llm"
)

const ocrPrompt = "Transcribe all text visible in this image exactly as written, one line per text block. Reply with the text only."

// ModelOCR reads image text with the multimodal model.
type ModelOCR struct {
	client llm.Client
}

// NewModelOCR creates an OCR backed by client.
func NewModelOCR(client llm.Client) *ModelOCR {
	return &ModelOCR{client: client}
}

// Recognize implements OCR. Images are read one at a time; the first failure
// aborts the batch.
func (o *ModelOCR) Recognize(ctx context.Context, imagePaths []string) (map[string]string, error) {
	out := make(map[string]string, len(imagePaths))
	for _, path := range imagePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := o.client.Infer(ctx, ocrPrompt, path, "")
		if err != nil {
			return nil, fmt.Errorf("failed to read text from %s: %w", path, err)
		}
		out[path] = strings.TrimSpace(text)
	}
	return out, nil
}

var _ OCR = (*ModelOCR)(nil)
