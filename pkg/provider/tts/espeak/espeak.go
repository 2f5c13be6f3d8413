// Package espeak provides an offline TTS provider that shells out to the
// espeak-ng (or classic espeak) command-line synthesiser.
//
// Every utterance runs one process with --stdout; the WAV it writes is parsed
// and its PCM emitted in chunks at the binary's native 22.05 kHz.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

const (
	defaultBinary = "espeak-ng"

	// sampleRate is the rate espeak-ng writes with --stdout.
	sampleRate = 22050

	pcmChunkSize = 4096
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBinary sets the executable to run (e.g., "espeak" or an absolute path).
func WithBinary(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.binary = path
		}
	}
}

// WithDefaultVoice sets the voice used when a VoiceProfile has no ID.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) {
		p.defaultVoice = voice
	}
}

// runner executes the synthesiser and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Provider implements tts.Provider on top of the espeak-ng binary.
type Provider struct {
	binary       string
	defaultVoice string
	run          runner
}

// New creates a Provider. It does not check that the binary exists; use
// [Provider.Check] for that.
func New(opts ...Option) *Provider {
	p := &Provider{
		binary: defaultBinary,
		run:    execRun,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Check verifies that the configured binary can be found on PATH.
func (p *Provider) Check(_ context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("espeak: %w", err)
	}
	return nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: sampleRate, Channels: 1}
}

// SynthesizeStream implements tts.Provider. All fragments are collected
// before the process starts, so the first chunk arrives once the whole reply
// has been rendered.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 64)
	go func() {
		defer close(out)

		said, ok := tts.ReadText(ctx, text)
		if !ok {
			return
		}
		pcm, err := p.synthesize(ctx, strings.TrimSpace(said), voice)
		if err != nil {
			slog.Warn("espeak: synthesis failed", "err", err)
			return
		}
		for len(pcm) > 0 {
			end := min(pcmChunkSize, len(pcm))
			select {
			case out <- pcm[:end]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[end:]
		}
	}()
	return out, nil
}

// synthesize runs one espeak process and returns mono PCM at sampleRate.
func (p *Provider) synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	wav, err := p.run(ctx, p.binary, p.args(text, voice)...)
	if err != nil {
		return nil, fmt.Errorf("espeak: run %s: %w", p.binary, err)
	}
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("espeak: decode output: %w", err)
	}
	if f.SampleRate != sampleRate || f.Channels != 1 {
		pcm = audio.ToMonoPCM(pcm, f, sampleRate)
	}
	return pcm, nil
}

// args builds the command line for one utterance. Text is passed after "--"
// so replies starting with a dash are not parsed as flags.
func (p *Provider) args(text string, voice tts.VoiceProfile) []string {
	rate := voice.Rate
	if rate <= 0 {
		rate = tts.DefaultRate
	}
	args := []string{"--stdout", "-s", strconv.Itoa(rate)}
	v := voice.ID
	if v == "" {
		v = p.defaultVoice
	}
	if v != "" {
		args = append(args, "-v", v)
	}
	return append(args, "--", text)
}

// ListVoices implements tts.Provider by parsing `espeak-ng --voices`.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	out, err := p.run(ctx, p.binary, "--voices")
	if err != nil {
		return nil, fmt.Errorf("espeak: list voices: %w", err)
	}
	return parseVoices(out), nil
}

// ---- helpers ----

// parseVoices reads the table printed by --voices:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseVoices(out []byte) []tts.VoiceProfile {
	var voices []tts.VoiceProfile
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		meta := map[string]string{"language": fields[1], "file": fields[4]}
		if _, gender, ok := strings.Cut(fields[2], "/"); ok {
			meta["gender"] = gender
		}
		voices = append(voices, tts.VoiceProfile{
			ID:       fields[1],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Provider: "espeak",
			Metadata: meta,
		})
	}
	return voices
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, err
	}
	return out, nil
}
