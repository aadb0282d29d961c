package tts

import "fmt"

// Encoding names the audio container/codec a backend is asked to produce.
type Encoding string

const (
	EncodingMP3       Encoding = "mp3"
	EncodingOggOpus   Encoding = "ogg_opus"
	EncodingOggVorbis Encoding = "ogg_vorbis"
	EncodingLinear16  Encoding = "linear16"
	EncodingPCM       Encoding = "pcm"
)

var encodingSupport = map[Encoding][]Backend{
	EncodingMP3:       {BackendGoogle, BackendPolly, BackendAzure},
	EncodingOggOpus:   {BackendGoogle, BackendAzure},
	EncodingOggVorbis: {BackendPolly},
	EncodingLinear16:  {BackendGoogle, BackendAzure},
	EncodingPCM:       {BackendPolly},
}

func (e Encoding) SupportedBy(b Backend) bool {
	for _, candidate := range encodingSupport[e] {
		if candidate == b {
			return true
		}
	}
	return false
}

// Ext returns the file extension for fragments and assembled output.
func (e Encoding) Ext() string {
	switch e {
	case EncodingMP3:
		return ".mp3"
	case EncodingOggOpus, EncodingOggVorbis:
		return ".ogg"
	case EncodingLinear16:
		return ".wav"
	case EncodingPCM:
		return ".pcm"
	}
	return ".bin"
}

func (e Encoding) MIMEType() string {
	switch e {
	case EncodingMP3:
		return "audio/mpeg"
	case EncodingOggOpus:
		return "audio/opus"
	case EncodingOggVorbis:
		return "audio/ogg"
	case EncodingLinear16:
		return "audio/wav"
	case EncodingPCM:
		return "audio/pcm"
	}
	return "application/octet-stream"
}

// EncodingForMIME picks the encoding a backend should use to produce the
// requested MIME type.
func EncodingForMIME(mimeType string, backend Backend) (Encoding, error) {
	var enc Encoding
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		enc = EncodingMP3
	case "audio/wav", "audio/x-wav":
		enc = EncodingLinear16
	case "audio/pcm":
		enc = EncodingPCM
	case "audio/ogg":
		enc = EncodingOggVorbis
	case "audio/opus":
		enc = EncodingOggOpus
	default:
		return "", fmt.Errorf("unsupported mime type %q", mimeType)
	}
	if !enc.SupportedBy(backend) {
		return "", fmt.Errorf("synthesizer %q does not support mime type %q", backend, mimeType)
	}
	return enc, nil
}
