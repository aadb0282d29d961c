package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// Assembler turns an ordered list of fragments into one output file. The
// output appears atomically: it is written under a temporary name in the
// destination directory and renamed into place.
type Assembler struct {
	mode   string
	ffmpeg string
	logger *slog.Logger
}

func NewAssembler(cfg config.AssemblerConfig, log *slog.Logger) *Assembler {
	return &Assembler{
		mode:   cfg.Mode,
		ffmpeg: cfg.FFmpegPath,
		logger: log.With(slog.String("component", "assembler")),
	}
}

// Concatenator picks the strategy for an output extension. In auto mode
// Ogg output needs ffmpeg: appending Ogg files byte by byte yields chained
// streams that many players stop reading after the first.
func (a *Assembler) Concatenator(ext string) (Concatenator, error) {
	switch a.mode {
	case "ffmpeg":
		return FFmpegConcatenator{Path: a.ffmpeg}, nil
	case "stream":
		if ext == ".wav" {
			return WAVConcatenator{}, nil
		}
		return StreamConcatenator{}, nil
	}
	switch ext {
	case ".wav":
		return WAVConcatenator{}, nil
	case ".ogg":
		if _, err := exec.LookPath(a.ffmpeg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFFmpegRequired, err)
		}
		return FFmpegConcatenator{Path: a.ffmpeg}, nil
	}
	return StreamConcatenator{}, nil
}

// Assemble writes the fragments, in the order given, to outPath and returns
// the path. Fragment indices must be strictly ascending. A single fragment
// is moved into place rather than copied through a concatenator.
func (a *Assembler) Assemble(ctx context.Context, fragments []Fragment, outPath string) (string, error) {
	if len(fragments) == 0 {
		return "", &AssemblyError{Op: "validate", Path: outPath, Err: ErrNoFragments}
	}
	if err := checkOrder(fragments); err != nil {
		return "", &AssemblyError{Op: "validate", Path: outPath, Err: err}
	}
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &AssemblyError{Op: "mkdir", Path: outPath, Err: err}
	}

	if len(fragments) == 1 {
		if err := moveFile(fragments[0].Path, outPath); err != nil {
			return "", &AssemblyError{Op: "move", Path: outPath, Err: err}
		}
		a.logger.Debug("single fragment moved into place", slog.String("output", outPath))
		return outPath, nil
	}

	concat, err := a.Concatenator(filepath.Ext(outPath))
	if err != nil {
		return "", &AssemblyError{Op: "concat", Path: outPath, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".assemble-*"+filepath.Ext(outPath))
	if err != nil {
		return "", &AssemblyError{Op: "create", Path: outPath, Err: err}
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", &AssemblyError{Op: "create", Path: outPath, Err: err}
	}

	if err := concat.Concat(ctx, Paths(fragments), tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", &AssemblyError{Op: "concat", Path: outPath, Err: err}
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", &AssemblyError{Op: "rename", Path: outPath, Err: err}
	}
	a.logger.Debug("fragments assembled",
		slog.String("output", outPath),
		slog.Int("fragments", len(fragments)),
		slog.String("strategy", fmt.Sprintf("%T", concat)),
	)
	return outPath, nil
}

// moveFile renames src to dst, copying when the two live on different
// filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".assemble-*"+filepath.Ext(dst))
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Remove(src)
}
