package tts

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
	out   *polly.SynthesizeSpeechOutput
	err   error
}

func (f *fakePolly) SynthesizeSpeechWithContext(_ aws.Context, input *polly.SynthesizeSpeechInput, _ ...request.Option) (*polly.SynthesizeSpeechOutput, error) {
	f.input = input
	return f.out, f.err
}

var pollyOpts = Options{Backend: BackendPolly, LanguageCode: "en-GB", VoiceName: "Brian", Encoding: EncodingMP3}

func TestPollySynthesizeSSML(t *testing.T) {
	fake := &fakePolly{out: &polly.SynthesizeSpeechOutput{
		AudioStream: io.NopCloser(strings.NewReader("mp3")),
		ContentType: aws.String("audio/mpeg"),
	}}
	synth := &PollySynthesizer{api: fake, engine: "neural"}

	audio, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "<speak>Hi.</speak>"}, pollyOpts)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)
	assert.Equal(t, polly.TextTypeSsml, aws.StringValue(fake.input.TextType))
	assert.Equal(t, "mp3", aws.StringValue(fake.input.OutputFormat))
	assert.Equal(t, "Brian", aws.StringValue(fake.input.VoiceId))
	assert.Equal(t, "neural", aws.StringValue(fake.input.Engine))
}

func TestPollyPlainText(t *testing.T) {
	fake := &fakePolly{out: &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("x"))}}
	synth := &PollySynthesizer{api: fake}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "Hi."}, pollyOpts)
	require.NoError(t, err)
	assert.Equal(t, polly.TextTypeText, aws.StringValue(fake.input.TextType))
	assert.Nil(t, fake.input.Engine)
}

func TestPollyRequestFailureStatus(t *testing.T) {
	fake := &fakePolly{err: awserr.NewRequestFailure(awserr.New("ThrottlingException", "rate exceeded", nil), 429, "req-1")}
	synth := &PollySynthesizer{api: fake}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Index: 7, Content: "Hi."}, pollyOpts)

	var serr *SynthesisError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 429, serr.Status)
	assert.Equal(t, 7, serr.ChunkIndex)
	assert.True(t, serr.Retryable)
}

func TestPollyInvalidSSMLIsPermanent(t *testing.T) {
	fake := &fakePolly{err: awserr.NewRequestFailure(awserr.New(polly.ErrCodeInvalidSsmlException, "bad ssml", nil), 400, "req-2")}
	synth := &PollySynthesizer{api: fake}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "<speak>"}, pollyOpts)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestPollyRejectsNonAudio(t *testing.T) {
	fake := &fakePolly{out: &polly.SynthesizeSpeechOutput{
		AudioStream: io.NopCloser(strings.NewReader("{}")),
		ContentType: aws.String("application/json"),
	}}
	synth := &PollySynthesizer{api: fake}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "Hi."}, pollyOpts)
	require.ErrorIs(t, err, ErrUnexpectedPayload)
}
