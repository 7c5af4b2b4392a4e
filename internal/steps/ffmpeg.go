package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// FFmpegExtractor extracts frames by running the ffmpeg binary.
type FFmpegExtractor struct {
	path   string
	logger *slog.Logger
}

// NewFFmpegExtractor creates an extractor that runs the binary at path
// ("ffmpeg" when empty, resolved through PATH).
func NewFFmpegExtractor(path string, logger *slog.Logger) *FFmpegExtractor {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegExtractor{
		path:   path,
		logger: logger.With(slog.String("component", "ffmpeg_extractor")),
	}
}

// ExtractFrames implements Extractor.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, videoPath string, opts FrameExtractOptions) ([]string, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	pattern := filepath.Join(opts.OutputDir, base+"_*.jpg")
	// A re-run may extract fewer frames than an earlier attempt left behind.
	if err := removeFrames(pattern); err != nil {
		return nil, err
	}
	args := ffmpegArgs(videoPath, filepath.Join(opts.OutputDir, base+"_%04d.jpg"), opts)

	e.logger.DebugContext(ctx, "running ffmpeg", "args", args)
	cmd := exec.CommandContext(ctx, e.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	frames, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	slices.Sort(frames)

	e.logger.InfoContext(ctx, "frames extracted", "video_path", videoPath, "frame_count", len(frames))
	return frames, nil
}

func removeFrames(pattern string) error {
	stale, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list frames: %w", err)
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale frame: %w", err)
		}
	}
	return nil
}

func ffmpegArgs(videoPath, pattern string, opts FrameExtractOptions) []string {
	interval := opts.IntervalSeconds
	if interval <= 0 {
		interval = DefaultIntervalSeconds
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	args := []string{
		"-y", "-loglevel", "error",
		"-i", videoPath,
		"-vf", "fps=1/" + strconv.FormatFloat(interval, 'f', -1, 64),
		"-qscale:v", strconv.Itoa(quality),
	}
	if opts.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(opts.MaxFrames))
	}
	return append(args, pattern)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
