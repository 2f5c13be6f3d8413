// Package coqui speaks replies through a locally running Coqui TTS server.
//
// Two server flavours are supported. The standard server image
// (ghcr.io/coqui-ai/tts-cpu) synthesises with GET /api/tts and describes its
// model on GET /details. The XTTS v2 API server synthesises with
// POST /tts_to_audio/ and lists its studio voices on GET /studio_speakers.
//
// Both servers answer one WAV file per request, so a reply is split into
// sentences and synthesised one sentence at a time. Playback can start after
// the first sentence instead of waiting for the whole reply.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 22050

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider talks to.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server. Default.
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the XTTS v2 API server. Every request needs a
	// speaker, either from the voice profile or [WithDefaultSpeaker].
	APIModeXTTS APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate sets the rate all synthesised PCM is resampled to.
// Defaults to 22050 Hz, the native rate of the standard server's VITS models.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.outputRate = rate
		}
	}
}

// WithDefaultSpeaker sets the speaker used when a VoiceProfile has no ID.
func WithDefaultSpeaker(id string) Option {
	return func(p *Provider) { p.defaultSpeaker = id }
}

// Provider implements [tts.Provider] against a Coqui server.
type Provider struct {
	serverURL      string
	language       string
	apiMode        APIMode
	outputRate     int
	defaultSpeaker string
	httpClient     *http.Client
}

// New returns a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body of POST /tts_to_audio/.
type ttsRequest struct {
	Text       string  `json:"text"`
	SpeakerWav string  `json:"speaker_wav"`
	Language   string  `json:"language"`
	Speed      float64 `json:"speed,omitempty"`
}

// detailsResponse is the body of GET /details. Speakers is empty for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// Format implements [tts.Provider].
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: p.outputRate, Channels: 1}
}

// SynthesizeStream gathers the reply from text, then synthesises it sentence
// by sentence and emits the PCM in order. A failed sentence ends the stream;
// the error is logged.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		voice.ID = p.defaultSpeaker
	}
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty in xtts mode")
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		reply, ok := tts.ReadText(ctx, text)
		if !ok {
			return
		}
		for _, sentence := range splitSentences(reply) {
			pcm, err := p.synthesize(ctx, sentence, voice)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "err", err)
				}
				return
			}
			for len(pcm) > 0 {
				n := min(pcmChunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()
	return out, nil
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error
	if p.apiMode == APIModeXTTS {
		body := ttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language}
		if speed := voice.SpeedFactor(); speed != 1 {
			body.Speed = speed
		}
		data, _ := json.Marshal(body)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {sentence}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return nil, err
	}
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if f.SampleRate != p.outputRate || f.Channels != 1 {
		pcm = audio.ToMonoPCM(pcm, f, p.outputRate)
	}
	return pcm, nil
}

// ListVoices returns the server's speakers. A single-speaker standard model
// is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &speakers); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(speakers))
		for name := range speakers {
			names = append(names, name)
		}
		return profiles(names, "studio", ""), nil
	}

	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		return profiles(slices.Clone(details.Speakers), "speaker", details.ModelName), nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return profiles([]string{name}, "single-speaker", name), nil
}

func profiles(names []string, kind, model string) []tts.VoiceProfile {
	slices.Sort(names)
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		meta := map[string]string{"type": kind}
		if model != "" {
			meta["model_name"] = model
		}
		out = append(out, tts.VoiceProfile{ID: name, Name: name, Provider: "coqui", Metadata: meta})
	}
	return out
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return body, nil
}

// splitSentences cuts s after every sentence boundary and drops empty pieces.
func splitSentences(s string) []string {
	var out []string
	for {
		i := findSentenceBoundary(s)
		if i < 0 {
			break
		}
		if sentence := strings.TrimSpace(s[:i+1]); sentence != "" {
			out = append(out, sentence)
		}
		s = s[i+1:]
	}
	if rest := strings.TrimSpace(s); rest != "" {
		out = append(out, rest)
	}
	return out
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that
// ends s or is followed by whitespace, so "3.14" is not split. -1 if none.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
