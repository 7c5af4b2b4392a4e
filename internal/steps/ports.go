package steps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoVideo is returned when a task names neither a local video nor a video key.
var ErrNoVideo = errors.New("task has no video")

// ErrNoImage is returned when Inference runs before any frame exists.
var ErrNoImage = errors.New("task has no image")

// FrameExtractOptions controls frame sampling.
type FrameExtractOptions struct {
	// IntervalSeconds is the time between sampled frames.
	IntervalSeconds float64
	// MaxFrames caps the number of frames; zero means no cap.
	MaxFrames int
	// Quality is the JPEG quality scale, 2 (best) to 31.
	Quality int
	// OutputDir receives the frames.
	OutputDir string
}

// Extractor samples frames from a local video file and returns their paths
// in playback order.
type Extractor interface {
	ExtractFrames(ctx context.Context, videoPath string, opts FrameExtractOptions) ([]string, error)
}

// VideoFetcher downloads the video stored under key and returns its local path.
type VideoFetcher interface {
	FetchVideo(ctx context.Context, key, dir string) (string, error)
}

// FrameUploader stores extracted frames and returns the key of each.
type FrameUploader interface {
	UploadFrames(ctx context.Context, taskID string, paths []string) ([]string, error)
}

// OCR reads the text visible in images. The result is keyed by image path.
type OCR interface {
	Recognize(ctx context.Context, imagePaths []string) (map[string]string, error)
}

// LocalVideoFetcher resolves video keys against a directory on local disk.
type LocalVideoFetcher struct {
	BaseDir string
}

// FetchVideo implements VideoFetcher without copying: the resolved file must exist.
func (f LocalVideoFetcher) FetchVideo(_ context.Context, key, _ string) (string, error) {
	path := filepath.Join(f.BaseDir, filepath.Clean("/"+key))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("video %q not found: %w", key, err)
	}
	return path, nil
}
