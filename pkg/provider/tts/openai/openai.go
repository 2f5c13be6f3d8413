// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Audio is requested as raw PCM and streamed to the caller while the
// response body is still arriving.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	// sampleRate is fixed by the API for the "pcm" response format.
	sampleRate = 24000

	defaultVoice = "alloy"
	chunkSize    = 4096
)

// DefaultModel is the speech model used when none is configured.
const DefaultModel = oai.SpeechModelTTS1

// voices is the fixed catalogue of the speech endpoint.
var voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides the speech model (e.g., "tts-1-hd", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = oai.SpeechModel(model)
		}
	}
}

// WithDefaultVoice sets the voice used when a VoiceProfile has no ID.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) {
		if voice != "" {
			p.defaultVoice = voice
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
	}
}

// WithMaxRetries sets how often the SDK retries transient failures.
func WithMaxRetries(n int) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithMaxRetries(n))
	}
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        oai.SpeechModel
	defaultVoice string
	reqOpts      []option.RequestOption
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: DefaultModel, defaultVoice: defaultVoice}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, p.reqOpts...)...)
	return p, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: sampleRate, Channels: 1}
}

// SynthesizeStream implements tts.Provider. The whole reply is sent as one
// request; PCM is forwarded as the body streams in.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		input, ok := tts.ReadText(ctx, text)
		if !ok {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			return
		}
		if err := p.stream(ctx, input, voice, out); err != nil && ctx.Err() == nil {
			slog.Warn("openai tts: synthesis failed", "err", err)
		}
	}()
	return out, nil
}

func (p *Provider) stream(ctx context.Context, input string, voice tts.VoiceProfile, out chan<- []byte) error {
	name := voice.ID
	if name == "" {
		name = p.defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          input,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(name),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Rate > 0 {
		params.Speed = oai.Float(min(max(voice.SpeedFactor(), 0.25), 4))
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai tts: request: %w", err)
	}
	defer resp.Body.Close()

	var carry []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			// Keep samples whole across reads.
			even := len(data) &^ 1
			carry = append([]byte(nil), data[even:]...)
			if even > 0 {
				select {
				case out <- append([]byte(nil), data[:even]...):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}

// ListVoices implements tts.Provider. The catalogue is fixed by the API.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}
