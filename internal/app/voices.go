package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MrWong99/voxloop/internal/config"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// ListVoices prints the voices of the configured speech backend, one per
// line with index, name, ID and language, so a user can pick speech.voice.
// Only that backend is built; no audio device is opened.
func ListVoices(ctx context.Context, w io.Writer, cfg *config.Config, reg *config.Registry) error {
	var entry config.ProviderEntry
	for _, e := range cfg.Providers.TTS {
		if e.Name == cfg.Speech.Backend {
			entry = e
			break
		}
	}
	p, err := reg.CreateTTS(entry)
	if err != nil {
		return fmt.Errorf("app: create tts provider %q: %w", cfg.Speech.Backend, err)
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("app: list %s voices: %w", cfg.Speech.Backend, err)
	}
	return writeVoices(w, voices)
}

func writeVoices(w io.Writer, voices []tts.VoiceProfile) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tID\tLANGUAGE")
	for i, v := range voices {
		lang := v.Metadata["language"]
		if lang == "" {
			lang = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, v.Name, v.ID, lang)
	}
	return tw.Flush()
}
