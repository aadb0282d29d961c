package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

// GoogleSynthesizer calls the Google Cloud Text-to-Speech v1 API.
type GoogleSynthesizer struct {
	svc *texttospeech.Service
}

func NewGoogleSynthesizer(ctx context.Context, cfg config.GoogleConfig, opts ...option.ClientOption) (*GoogleSynthesizer, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create google text-to-speech client: %w", err)
	}
	return &GoogleSynthesizer{svc: svc}, nil
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error) {
	input := &texttospeech.SynthesisInput{}
	if isSSML(chunk.Content) {
		input.Ssml = chunk.Content
	} else {
		input.Text = chunk.Content
	}
	req := &texttospeech.SynthesizeSpeechRequest{
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: googleEncoding(opts.Encoding)},
		Input:       input,
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: opts.LanguageCode,
			Name:         opts.VoiceName,
		},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		status := 0
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, synthesisError(BackendGoogle, chunk.Index, status, err)
	}
	if resp.AudioContent == "" {
		return nil, synthesisError(BackendGoogle, chunk.Index, resp.HTTPStatusCode, ErrEmptyAudio)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, synthesisError(BackendGoogle, chunk.Index, resp.HTTPStatusCode, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err))
	}
	if len(audio) == 0 {
		return nil, synthesisError(BackendGoogle, chunk.Index, resp.HTTPStatusCode, ErrEmptyAudio)
	}
	return audio, nil
}

func googleEncoding(e Encoding) string {
	switch e {
	case EncodingOggOpus:
		return "OGG_OPUS"
	case EncodingLinear16:
		return "LINEAR16"
	}
	return "MP3"
}
