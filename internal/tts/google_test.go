package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newGoogle(t *testing.T, handler http.HandlerFunc) *GoogleSynthesizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	synth, err := NewGoogleSynthesizer(context.Background(), config.GoogleConfig{Endpoint: srv.URL + "/"},
		option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return synth
}

func TestGoogleSynthesizeSSML(t *testing.T) {
	var got map[string]any
	synth := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/text:synthesize"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"audioContent": base64.StdEncoding.EncodeToString([]byte("audio"))})
	})

	opts := Options{Backend: BackendGoogle, LanguageCode: "en-US", VoiceName: "en-US-Wavenet-D", Encoding: EncodingLinear16}
	audio, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "<speak>Hi.</speak>"}, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), audio)

	input := got["input"].(map[string]any)
	assert.Equal(t, "<speak>Hi.</speak>", input["ssml"])
	assert.Equal(t, "LINEAR16", got["audioConfig"].(map[string]any)["audioEncoding"])
	assert.Equal(t, "en-US-Wavenet-D", got["voice"].(map[string]any)["name"])
}

func TestGoogleErrorCarriesStatus(t *testing.T) {
	synth := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend overloaded"}}`))
	})
	opts := Options{Backend: BackendGoogle, VoiceName: "v", Encoding: EncodingMP3}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Index: 2, Content: "plain"}, opts)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestGoogleEmptyAudio(t *testing.T) {
	synth := newGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	opts := Options{Backend: BackendGoogle, VoiceName: "v", Encoding: EncodingMP3}
	_, err := synth.Synthesize(context.Background(), ssml.Chunk{Content: "plain"}, opts)
	require.ErrorIs(t, err, ErrEmptyAudio)
}
