package gemini

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// imagePart builds the request part for an image reference.
func imagePart(imageURL string) (*genai.Part, error) {
	if isRemote(imageURL) {
		return &genai.Part{FileData: &genai.FileData{
			FileURI:  imageURL,
			MIMEType: mimeTypeFor(imageURL, nil),
		}}, nil
	}

	data, err := os.ReadFile(imageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", imageURL, err)
	}
	return &genai.Part{InlineData: &genai.Blob{
		Data:     data,
		MIMEType: mimeTypeFor(imageURL, data),
	}}, nil
}

func isRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "gs://")
}

// mimeTypeFor guesses from the extension, then sniffs data when present.
func mimeTypeFor(ref string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(ref, "?", 2)[0]))
	if mt, ok := imageMIMETypes[ext]; ok {
		return mt
	}
	if len(data) > 0 {
		if mt := http.DetectContentType(data); strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	return "image/jpeg"
}
