package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/phrazzld/agentrun/internal/steps"
)

// objects is the slice of an object store bucket used here.
type objects interface {
	Download(ctx context.Context, name, filePath string) error
	Upload(ctx context.Context, name, filePath string) error
}

type jsObjects struct {
	store jetstream.ObjectStore
}

func (o jsObjects) Download(ctx context.Context, name, filePath string) error {
	return o.store.GetFile(ctx, name, filePath)
}

func (o jsObjects) Upload(ctx context.Context, name, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = o.store.Put(ctx, jetstream.ObjectMeta{Name: name}, f)
	return err
}

// ObjectStore fetches source videos from, and uploads extracted frames to, a
// JetStream object store bucket.
type ObjectStore struct {
	objects objects
	logger  *slog.Logger
}

// NewObjectStore opens (creating if needed) the named bucket.
func NewObjectStore(ctx context.Context, js jetstream.JetStream, bucketName string, logger *slog.Logger) (*ObjectStore, error) {
	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "agentrun source videos and extracted frames",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store %s: %w", bucketName, err)
	}
	return newObjectStore(jsObjects{store: store}, logger), nil
}

func newObjectStore(o objects, logger *slog.Logger) *ObjectStore {
	return &ObjectStore{objects: o, logger: logger.With("component", "object_store")}
}

// FetchVideo implements steps.VideoFetcher.
func (s *ObjectStore) FetchVideo(ctx context.Context, key, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create video directory: %w", err)
	}
	local := filepath.Join(dir, "source"+path.Ext(key))
	if err := s.objects.Download(ctx, key, local); err != nil {
		return "", fmt.Errorf("failed to fetch video %q: %w", key, err)
	}
	s.logger.DebugContext(ctx, "fetched video", "key", key, "path", local)
	return local, nil
}

// UploadFrames implements steps.FrameUploader. Frames are stored under
// frames/<taskID>/<file name>.
func (s *ObjectStore) UploadFrames(ctx context.Context, taskID string, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key := path.Join("frames", taskID, filepath.Base(p))
		if err := s.objects.Upload(ctx, key, p); err != nil {
			return keys, fmt.Errorf("failed to upload frame %s: %w", p, err)
		}
		keys = append(keys, key)
	}
	s.logger.DebugContext(ctx, "uploaded frames", "task_id", taskID, "count", len(keys))
	return keys, nil
}

var (
	_ steps.VideoFetcher  = (*ObjectStore)(nil)
	_ steps.FrameUploader = (*ObjectStore)(nil)
)
