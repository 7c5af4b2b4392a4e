package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/phrazzld/agentrun/internal/task"
)

// Frame extraction parameters and their defaults. A task can override any of
// them through a CustomData entry of the same name.
const (
	ParamIntervalSeconds = "intervalSeconds"
	ParamMaxFrames       = "maxFrames"
	ParamQuality         = "quality"
	ParamUploadToS3      = "uploadToS3"

	DefaultIntervalSeconds = 1.0
	DefaultMaxFrames       = 0
	DefaultQuality         = 2
)

const paramRemote = "remote"

// FrameExtractExecutor samples frames from the task's video.
type FrameExtractExecutor struct {
	extractor Extractor
	fetcher   VideoFetcher
	uploader  FrameUploader
	workDir   string
	logger    *slog.Logger
}

// FrameExtractOption configures a FrameExtractExecutor.
type FrameExtractOption func(*FrameExtractExecutor)

// WithVideoFetcher resolves video keys for tasks without a local video.
func WithVideoFetcher(f VideoFetcher) FrameExtractOption {
	return func(e *FrameExtractExecutor) { e.fetcher = f }
}

// WithFrameUploader stores frames when a task sets uploadToS3.
func WithFrameUploader(u FrameUploader) FrameExtractOption {
	return func(e *FrameExtractExecutor) { e.uploader = u }
}

// NewFrameExtractExecutor creates the FrameExtract step. Frames and fetched
// videos are written below workDir, one directory per task.
func NewFrameExtractExecutor(extractor Extractor, workDir string, logger *slog.Logger, opts ...FrameExtractOption) *FrameExtractExecutor {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "agentrun")
	}
	e := &FrameExtractExecutor{
		extractor: extractor,
		workDir:   workDir,
		logger:    logger.With(slog.String("component", "frame_extract_step")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements task.StepExecutor.
func (e *FrameExtractExecutor) Name() string {
	return task.StepFrameExtract
}

// BuildRequest implements task.RequestBuilder. A local video path wins over
// the video key. A task with no video but seeded images gets a request with
// no video path, which Execute treats as nothing to extract.
func (e *FrameExtractExecutor) BuildRequest(tc *task.TaskContext) (task.StepRequest, error) {
	req := task.StepRequest{
		StepName: task.StepFrameExtract,
		Params: map[string]any{
			ParamIntervalSeconds: floatParam(tc, ParamIntervalSeconds, DefaultIntervalSeconds),
			ParamMaxFrames:       intParam(tc, ParamMaxFrames, DefaultMaxFrames),
			ParamQuality:         intParam(tc, ParamQuality, DefaultQuality),
			ParamUploadToS3:      boolParam(tc, ParamUploadToS3, false),
		},
	}
	switch {
	case tc.LocalVideoPath != "":
		req.VideoPath = tc.LocalVideoPath
	case tc.VideoKey != "":
		req.VideoPath = tc.VideoKey
		req.Params[paramRemote] = true
	case len(tc.ImagePaths) > 0:
	default:
		return req, ErrNoVideo
	}
	return req, nil
}

// Execute implements task.StepExecutor.
func (e *FrameExtractExecutor) Execute(ctx context.Context, tc *task.TaskContext, req task.StepRequest) (*task.StepResult, error) {
	if req.VideoPath == "" {
		if len(tc.ImagePaths) > 0 {
			e.logger.InfoContext(ctx, "no video to extract, keeping submitted images",
				"task_id", tc.TaskID, "image_count", len(tc.ImagePaths))
			return &task.StepResult{Data: map[string]any{"frameExtractSkipped": true}}, nil
		}
		return nil, ErrNoVideo
	}
	taskDir := filepath.Join(e.workDir, tc.TaskID)

	videoPath := req.VideoPath
	if remote, _ := req.Params[paramRemote].(bool); remote {
		if e.fetcher == nil {
			return nil, fmt.Errorf("no video fetcher configured for key %q", req.VideoPath)
		}
		local, err := e.fetcher.FetchVideo(ctx, req.VideoPath, taskDir)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch video: %w", err)
		}
		videoPath = local
		e.logger.InfoContext(ctx, "video fetched", "task_id", tc.TaskID, "video_key", req.VideoPath, "local_path", local)
	}

	opts := FrameExtractOptions{
		IntervalSeconds: floatValue(req.Params[ParamIntervalSeconds], DefaultIntervalSeconds),
		MaxFrames:       intValue(req.Params[ParamMaxFrames], DefaultMaxFrames),
		Quality:         intValue(req.Params[ParamQuality], DefaultQuality),
		OutputDir:       filepath.Join(taskDir, "frames"),
	}
	frames, err := e.extractor.ExtractFrames(ctx, videoPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to extract frames: %w", err)
	}
	tc.LocalVideoPath = videoPath

	data := map[string]any{
		"localVideoPath": videoPath,
		"frameCount":     len(frames),
	}
	if upload, _ := req.Params[ParamUploadToS3].(bool); upload && len(frames) > 0 {
		if e.uploader == nil {
			e.logger.WarnContext(ctx, "frame upload requested but no frame store configured", "task_id", tc.TaskID)
		} else {
			keys, err := e.uploader.UploadFrames(ctx, tc.TaskID, frames)
			if err != nil {
				return nil, fmt.Errorf("failed to upload frames: %w", err)
			}
			data["frameKeys"] = keys
		}
	}

	e.logger.InfoContext(ctx, "frame extraction finished",
		"task_id", tc.TaskID,
		"frame_count", len(frames),
		"interval_seconds", opts.IntervalSeconds)
	return &task.StepResult{ImagePaths: frames, Data: data}, nil
}

func floatParam(tc *task.TaskContext, key string, def float64) float64 {
	v, _ := tc.Get(key)
	return floatValue(v, def)
}

func intParam(tc *task.TaskContext, key string, def int) int {
	v, _ := tc.Get(key)
	return intValue(v, def)
}

func boolParam(tc *task.TaskContext, key string, def bool) bool {
	if v, ok := tc.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// floatValue accepts the numeric types a value may have after a JSON round trip.
func floatValue(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

var (
	_ task.StepExecutor   = (*FrameExtractExecutor)(nil)
	_ task.RequestBuilder = (*FrameExtractExecutor)(nil)
)
