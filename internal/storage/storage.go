// Package storage publishes assembled narrations so clients can fetch them.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// Object describes where and how an assembled file is published.
type Object struct {
	Key         string
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	// Upload publishes the file at localPath and returns its public URL.
	Upload(ctx context.Context, localPath string, obj Object) (string, error)
}

// New returns the uploader for the configured mode, or nil when uploads
// are disabled.
func New(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (Uploader, error) {
	logger := log.With(slog.String("component", "storage"))
	switch cfg.Mode {
	case "none", "":
		logger.Info("uploads disabled")
		return nil, nil
	case "local":
		logger.Info("uploading to local directory", slog.String("dir", cfg.LocalDir))
		return NewLocalUploader(cfg.LocalDir, cfg.PublicBaseURL), nil
	case "gcs":
		up, err := NewGCSUploader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("uploading to cloud storage", slog.String("bucket", cfg.Bucket))
		return up, nil
	}
	return nil, fmt.Errorf("storage: unsupported mode %q", cfg.Mode)
}

// ObjectFor builds the object for a finished job: it lives under
// <prefix>/<jobID>/ and carries the synthesis settings as metadata.
func ObjectFor(prefix, jobID string, opts tts.Options) Object {
	return Object{
		Key:         path.Join(prefix, jobID, "narration"+opts.Encoding.Ext()),
		ContentType: opts.Encoding.MIMEType(),
		Metadata: map[string]string{
			"synthesizer":  opts.Backend.String(),
			"languageCode": opts.LanguageCode,
			"name":         opts.VoiceName,
			"source":       opts.SourceTag,
		},
	}
}
