package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/mattn/go-shellwords"
)

// execSynth runs an external command once per chunk. The command reads a
// JSON request on stdin and writes JSON lines with base64 audio on stdout.
type execSynth struct {
	backend Backend
	cmd     []string
}

type execRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language,omitempty"`
	Encoding string `json:"encoding"`
	Backend  string `json:"backend"`
	Source   string `json:"source,omitempty"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Final       bool   `json:"final"`
	Error       string `json:"error,omitempty"`
	Status      int    `json:"status,omitempty"`
}

func NewExecSynthesizer(backend Backend, command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{backend: backend, cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error) {
	data, err := json.Marshal(execRequest{
		Text:     chunk.Content,
		Voice:    opts.VoiceName,
		Language: opts.LanguageCode,
		Encoding: string(opts.Encoding),
		Backend:  e.backend.String(),
		Source:   opts.SourceTag,
	})
	if err != nil {
		return nil, synthesisError(e.backend, chunk.Index, 0, err)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, synthesisError(e.backend, chunk.Index, 0, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, synthesisError(e.backend, chunk.Index, 0, err)
	}

	var audio []byte
	var respErr error
	final := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || final {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			respErr = synthesisError(e.backend, chunk.Index, 0, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err))
			break
		}
		if resp.Error != "" {
			respErr = synthesisError(e.backend, chunk.Index, resp.Status, errors.New(resp.Error))
			break
		}
		part, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
		if err != nil {
			respErr = synthesisError(e.backend, chunk.Index, 0, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err))
			break
		}
		audio = append(audio, part...)
		final = resp.Final
	}
	if respErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, respErr
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, synthesisError(e.backend, chunk.Index, 0, ctxErr)
		}
		return nil, synthesisError(e.backend, chunk.Index, 0, fmt.Errorf("tts command: %w: %s", err, bytes.TrimSpace(stderr.Bytes())))
	}
	if scanErr != nil {
		return nil, synthesisError(e.backend, chunk.Index, 0, scanErr)
	}
	if len(audio) == 0 {
		return nil, synthesisError(e.backend, chunk.Index, 0, ErrEmptyAudio)
	}
	return audio, nil
}
