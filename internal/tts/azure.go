package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/ssml"
)

const azureUserAgent = "loqa-narrator"

// AzureSynthesizer calls the Microsoft Cognitive Services speech REST API.
type AzureSynthesizer struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewAzureSynthesizer(cfg config.AzureConfig, client *http.Client) (*AzureSynthesizer, error) {
	if cfg.SubscriptionKey == "" {
		return nil, fmt.Errorf("azure subscription key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("azure region or endpoint is required")
		}
		endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	}
	return &AzureSynthesizer{endpoint: endpoint, key: cfg.SubscriptionKey, client: client}, nil
}

func (a *AzureSynthesizer) Synthesize(ctx context.Context, chunk ssml.Chunk, opts Options) ([]byte, error) {
	body := azureDocument(chunk.Content, opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, synthesisError(BackendAzure, chunk.Index, 0, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", azureOutputFormat(opts.Encoding))
	req.Header.Set("User-Agent", azureUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, synthesisError(BackendAzure, chunk.Index, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, synthesisError(BackendAzure, chunk.Index, resp.StatusCode, fmt.Errorf("azure: %s", bytes.TrimSpace(detail)))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") && ct != "application/octet-stream" {
		return nil, synthesisError(BackendAzure, chunk.Index, resp.StatusCode, fmt.Errorf("%w: content type %s", ErrUnexpectedPayload, ct))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, synthesisError(BackendAzure, chunk.Index, resp.StatusCode, err)
	}
	if len(audio) == 0 {
		return nil, synthesisError(BackendAzure, chunk.Index, resp.StatusCode, ErrEmptyAudio)
	}
	return audio, nil
}

// azureDocument builds the request body. The service only accepts SSML with
// a voice element, so plain text and bare speak documents get one.
func azureDocument(content string, opts Options) string {
	lang := opts.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	inner := content
	if isSSML(content) {
		if strings.Contains(content, "<voice") {
			return content
		}
		_, inner, _ = ssml.UnwrapSpeak(content)
	} else {
		var buf bytes.Buffer
		_ = xml.EscapeText(&buf, []byte(content))
		inner = buf.String()
	}
	return fmt.Sprintf(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s"><voice name="%s">%s</voice></speak>`,
		lang, opts.VoiceName, inner)
}

func azureOutputFormat(e Encoding) string {
	switch e {
	case EncodingOggOpus:
		return "ogg-24khz-16bit-mono-opus"
	case EncodingLinear16:
		return "riff-24khz-16bit-mono-pcm"
	}
	return "audio-24khz-48kbitrate-mono-mp3"
}
