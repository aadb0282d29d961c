package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	cases := map[string]Backend{
		"google":    BackendGoogle,
		"A":         BackendGoogle,
		" polly ":   BackendPolly,
		"aws":       BackendPolly,
		"b":         BackendPolly,
		"Microsoft": BackendAzure,
		"c":         BackendAzure,
	}
	for in, want := range cases {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBackend("festival")
	require.Error(t, err)
}

func TestBackendLimits(t *testing.T) {
	for _, b := range Backends() {
		l := b.Limits()
		require.NoError(t, l.Validate(), b.String())
	}
	assert.Equal(t, 5000, BackendGoogle.Limits().Hard)
	assert.Equal(t, 3000, BackendPolly.Limits().Hard)
	assert.Equal(t, 1000, BackendAzure.Limits().Hard)
	assert.False(t, BackendUnknown.Valid())
}

func TestBackendText(t *testing.T) {
	var b Backend
	require.NoError(t, b.UnmarshalText([]byte("azure")))
	assert.Equal(t, BackendAzure, b)
	text, err := BackendPolly.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "polly", string(text))
	_, err = BackendUnknown.MarshalText()
	require.Error(t, err)
}

func TestEncodingForMIME(t *testing.T) {
	enc, err := EncodingForMIME("audio/mpeg", BackendAzure)
	require.NoError(t, err)
	assert.Equal(t, EncodingMP3, enc)

	enc, err = EncodingForMIME("audio/wav", BackendGoogle)
	require.NoError(t, err)
	assert.Equal(t, EncodingLinear16, enc)
	assert.Equal(t, ".wav", enc.Ext())

	_, err = EncodingForMIME("audio/ogg", BackendGoogle)
	require.Error(t, err)
	_, err = EncodingForMIME("video/mp4", BackendPolly)
	require.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	opts := Options{Backend: BackendPolly, VoiceName: "Amy", Encoding: EncodingOggVorbis}
	require.NoError(t, opts.Validate())

	opts.Encoding = EncodingOggOpus
	require.Error(t, opts.Validate())

	require.Error(t, Options{Backend: BackendGoogle, Encoding: EncodingMP3}.Validate())
	require.Error(t, Options{VoiceName: "x", Encoding: EncodingMP3}.Validate())
}

func TestRetryClassification(t *testing.T) {
	assert.True(t, synthesisError(BackendGoogle, 0, 0, errors.New("connection reset")).Retryable)
	assert.True(t, synthesisError(BackendGoogle, 0, 500, errors.New("x")).Retryable)
	assert.True(t, synthesisError(BackendGoogle, 0, 408, errors.New("x")).Retryable)
	assert.False(t, synthesisError(BackendGoogle, 0, 403, errors.New("x")).Retryable)
	assert.False(t, synthesisError(BackendGoogle, 0, 0, context.Canceled).Retryable)
	assert.False(t, synthesisError(BackendGoogle, 0, 200, ErrEmptyAudio).Retryable)
	assert.False(t, IsRetryable(errors.New("plain")))
}
