package espeak

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxloop/pkg/audio"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
)

// fakeRunner records the last invocation and returns out/err.
type fakeRunner struct {
	name string
	args []string
	out  []byte
	err  error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	return f.out, f.err
}

func newTestProvider(f *fakeRunner, opts ...Option) *Provider {
	p := New(opts...)
	p.run = f.run
	return p
}

func TestArgs(t *testing.T) {
	p := New(WithDefaultVoice("en-us"))

	got := p.args("-hello", tts.VoiceProfile{})
	want := []string{"--stdout", "-s", "150", "-v", "en-us", "--", "-hello"}
	if !slices.Equal(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}

	got = p.args("hi", tts.VoiceProfile{ID: "de", Rate: 180})
	want = []string{"--stdout", "-s", "180", "-v", "de", "--", "hi"}
	if !slices.Equal(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestSynthesizeStream(t *testing.T) {
	pcm := make([]byte, 10000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	f := &fakeRunner{out: audio.EncodeWAV(pcm, audio.Format{SampleRate: sampleRate, Channels: 1})}
	p := newTestProvider(f, WithBinary("espeak"))

	ch, err := p.SynthesizeStream(context.Background(), tts.Text(" It's sunny "), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := audio.Collect(ch)

	if !slices.Equal(got, pcm) {
		t.Errorf("got %d bytes of PCM, want %d identical bytes", len(got), len(pcm))
	}
	if f.name != "espeak" {
		t.Errorf("binary = %q", f.name)
	}
	if last := f.args[len(f.args)-1]; last != "It's sunny" {
		t.Errorf("text arg = %q", last)
	}
}

func TestSynthesizeStream_ResamplesOffRateOutput(t *testing.T) {
	pcm := make([]byte, 2*44100) // 1s at 44.1 kHz
	f := &fakeRunner{out: audio.EncodeWAV(pcm, audio.Format{SampleRate: 44100, Channels: 1})}
	p := newTestProvider(f)

	ch, _ := p.SynthesizeStream(context.Background(), tts.Text("hi"), tts.VoiceProfile{})
	if got := len(audio.Collect(ch)); got != 2*sampleRate {
		t.Errorf("got %d bytes, want %d", got, 2*sampleRate)
	}
}

func TestSynthesizeStream_RunErrorClosesEarly(t *testing.T) {
	f := &fakeRunner{err: errors.New("exit status 1")}
	p := newTestProvider(f)

	ch, err := p.SynthesizeStream(context.Background(), tts.Text("hi"), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if got := audio.Collect(ch); len(got) != 0 {
		t.Errorf("expected no audio, got %d bytes", len(got))
	}
}

func TestSynthesizeStream_EmptyTextSkipsProcess(t *testing.T) {
	f := &fakeRunner{}
	p := newTestProvider(f)

	ch, _ := p.SynthesizeStream(context.Background(), tts.Text("   "), tts.VoiceProfile{})
	audio.Collect(ch)
	if f.name != "" {
		t.Error("process was started for empty text")
	}
}

func TestListVoices(t *testing.T) {
	f := &fakeRunner{out: []byte(`Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
 broken line
`)}
	p := newTestProvider(f)

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	v := voices[1]
	if v.ID != "en-us" || v.Name != "English (America)" || v.Metadata["gender"] != "M" {
		t.Errorf("voice = %+v", v)
	}
	if !slices.Equal(f.args, []string{"--voices"}) {
		t.Errorf("args = %v", f.args)
	}
}
