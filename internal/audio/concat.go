package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Concatenator joins input files, in the given order, into dst. dst already
// exists and is empty.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, dst string) error
}

// StreamConcatenator appends the raw bytes of each input. It suits
// frame-based formats such as MP3 and raw PCM. ID3v2 tags on all but the
// first input are skipped so players do not stop at a second header.
type StreamConcatenator struct{}

func (StreamConcatenator) Concat(ctx context.Context, inputs []string, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		data, err := os.ReadFile(in)
		if err != nil {
			out.Close()
			return err
		}
		if i > 0 {
			data = skipID3v2(data)
		}
		if _, err := w.Write(data); err != nil {
			out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func skipID3v2(data []byte) []byte {
	if len(data) < 10 || !bytes.HasPrefix(data, []byte("ID3")) {
		return data
	}
	// syncsafe size: 7 bits per byte
	size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
	end := 10 + size
	if data[5]&0x10 != 0 {
		end += 10
	}
	if end > len(data) {
		return data
	}
	return data[end:]
}

// WAVConcatenator decodes each input and writes the samples into a single
// WAV container. All inputs must share sample rate, depth and channels.
type WAVConcatenator struct{}

func (WAVConcatenator) Concat(ctx context.Context, inputs []string, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	var enc *wav.Encoder
	var format *goaudio.Format
	var depth int
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, bitDepth, err := readWAV(in)
		if err != nil {
			return err
		}
		if enc == nil {
			format, depth = buf.Format, bitDepth
			enc = wav.NewEncoder(out, format.SampleRate, depth, format.NumChannels, 1)
		} else if buf.Format.SampleRate != format.SampleRate || buf.Format.NumChannels != format.NumChannels || bitDepth != depth {
			return fmt.Errorf("%s: %w", filepath.Base(in), ErrFormatMismatch)
		}
		if err := enc.Write(buf); err != nil {
			return err
		}
	}
	if enc == nil {
		return ErrNoFragments
	}
	return enc.Close()
}

func readWAV(path string) (*goaudio.IntBuffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", filepath.Base(path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return buf, int(dec.BitDepth), nil
}

// FFmpegConcatenator uses the ffmpeg concat demuxer with stream copy.
type FFmpegConcatenator struct {
	Path string
}

func (f FFmpegConcatenator) Concat(ctx context.Context, inputs []string, dst string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	list, err := os.CreateTemp(filepath.Dir(dst), ".concat-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(list.Name())

	w := bufio.NewWriter(list)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			list.Close()
			return err
		}
		if _, err := fmt.Fprintf(w, "file '%s'\n", escapeConcatPath(abs)); err != nil {
			list.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		list.Close()
		return err
	}
	if err := list.Close(); err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0", "-i", list.Name(), "-c", "copy", "-f", formatFor(dst), dst)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// escapeConcatPath quotes a path for the concat demuxer list format.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// formatFor names the ffmpeg muxer for the output extension.
func formatFor(dst string) string {
	switch filepath.Ext(dst) {
	case ".wav":
		return "wav"
	case ".ogg":
		return "ogg"
	case ".pcm":
		return "s16le"
	}
	return "mp3"
}
