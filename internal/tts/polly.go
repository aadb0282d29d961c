package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
)

type pollyAPI interface {
	SynthesizeSpeechWithContext(ctx aws.Context, input *polly.SynthesizeSpeechInput, opts ...request.Option) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer calls AWS Polly.
type PollySynthesizer struct {
	api    pollyAPI
	engine string
}

func NewPollySynthesizer(cfg config.PollyConfig) (*PollySynthesizer, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &PollySynthesizer{api: polly.New(sess), engine: cfg.Engine}, nil
}

func (p *PollySynthesizer) Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error) {
	input := &polly.SynthesizeSpeechInput{
		OutputFormat: aws.String(string(opts.Encoding)),
		Text:         aws.String(chunk.Content),
		TextType:     aws.String(polly.TextTypeText),
		VoiceId:      aws.String(opts.VoiceName),
	}
	if isSSML(chunk.Content) {
		input.TextType = aws.String(polly.TextTypeSsml)
	}
	if opts.LanguageCode != "" {
		input.LanguageCode = aws.String(opts.LanguageCode)
	}
	if p.engine != "" {
		input.Engine = aws.String(p.engine)
	}

	out, err := p.api.SynthesizeSpeechWithContext(ctx, input)
	if err != nil {
		return nil, synthesisError(BackendPolly, chunk.Index, pollyStatus(err), err)
	}
	if out.AudioStream == nil {
		return nil, synthesisError(BackendPolly, chunk.Index, 0, ErrEmptyAudio)
	}
	defer out.AudioStream.Close()

	if ct := aws.StringValue(out.ContentType); ct != "" && !strings.HasPrefix(ct, "audio/") {
		return nil, synthesisError(BackendPolly, chunk.Index, 0, fmt.Errorf("%w: content type %s", ErrUnexpectedPayload, ct))
	}
	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, synthesisError(BackendPolly, chunk.Index, 0, err)
	}
	if len(audio) == 0 {
		return nil, synthesisError(BackendPolly, chunk.Index, 0, ErrEmptyAudio)
	}
	return audio, nil
}

func pollyStatus(err error) int {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode()
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case "ThrottlingException":
			return 429
		case polly.ErrCodeServiceFailureException:
			return 500
		}
	}
	return 0
}
