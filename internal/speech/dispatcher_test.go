package speech_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/speech"
	"github.com/MrWong99/voxloop/pkg/audio"
	audiomock "github.com/MrWong99/voxloop/pkg/audio/mock"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
)

func backends() (map[string]tts.Provider, *ttsmock.Provider, *ttsmock.Provider) {
	espeak := &ttsmock.Provider{
		AudioFormat:      audio.Format{SampleRate: 22050, Channels: 1},
		SynthesizeChunks: [][]byte{{0xe8, 0x03}, {0x18, 0xfc}}, // 1000, -1000
	}
	coqui := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0}}}
	return map[string]tts.Provider{"espeak": espeak, "coqui": coqui}, espeak, coqui
}

func TestNewDispatcher_UnknownDefault(t *testing.T) {
	b, _, _ := backends()
	_, err := speech.NewDispatcher(b, &audiomock.Player{}, "festival")
	if !errors.Is(err, speech.ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestSpeak_PlaysExactText(t *testing.T) {
	b, espeak, coqui := backends()
	player := &audiomock.Player{}
	voice := tts.VoiceProfile{ID: "en-us", Rate: 180}
	d, err := speech.NewDispatcher(b, player, "espeak", speech.WithVoice(voice))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	if err := d.Speak(context.Background(), "It's sunny", "", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	calls := espeak.Calls()
	if len(calls) != 1 || calls[0].Text != "It's sunny" || calls[0].Voice.ID != "en-us" || calls[0].Voice.Rate != 180 {
		t.Errorf("espeak calls = %+v", calls)
	}
	if len(coqui.Calls()) != 0 {
		t.Error("non-selected backend was called")
	}
	if player.CallCount() != 1 || len(player.Played[0]) != 4 {
		t.Fatalf("played = %v", player.Played)
	}
	if player.Formats[0].SampleRate != 22050 {
		t.Errorf("format = %+v, want the backend's", player.Formats[0])
	}
}

func TestSpeak_SelectsNamedBackend(t *testing.T) {
	b, espeak, coqui := backends()
	d, _ := speech.NewDispatcher(b, &audiomock.Player{}, "espeak")
	if err := d.Speak(context.Background(), "hi", "coqui", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(coqui.Calls()) != 1 || len(espeak.Calls()) != 0 {
		t.Errorf("coqui %d calls, espeak %d calls", len(coqui.Calls()), len(espeak.Calls()))
	}
}

func TestSpeak_UnknownBackendFailsOnlyThatCall(t *testing.T) {
	b, _, _ := backends()
	player := &audiomock.Player{}
	d, _ := speech.NewDispatcher(b, player, "espeak")

	if err := d.Speak(context.Background(), "hi", "festival", ""); !errors.Is(err, speech.ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
	if err := d.Speak(context.Background(), "hi", "", ""); err != nil {
		t.Fatalf("next Speak: %v", err)
	}
	if player.CallCount() != 1 {
		t.Errorf("plays = %d, want 1", player.CallCount())
	}
}

func TestSpeak_AppliesVolume(t *testing.T) {
	b, _, _ := backends()
	player := &audiomock.Player{}
	d, _ := speech.NewDispatcher(b, player, "espeak", speech.WithVoice(tts.VoiceProfile{Volume: 0.5}))

	if err := d.Speak(context.Background(), "hi", "", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	// 1000 and -1000 at half volume.
	want := []byte{0xf4, 0x01, 0x0c, 0xfe}
	if got := player.Played[0]; string(got) != string(want) {
		t.Errorf("played = %v, want %v", got, want)
	}
}

func TestSpeak_WritesFileInsteadOfPlaying(t *testing.T) {
	b, _, _ := backends()
	player := &audiomock.Player{}
	d, _ := speech.NewDispatcher(b, player, "espeak")
	path := filepath.Join(t.TempDir(), "out", "reply.wav")

	for _, reply := range []string{"first", "second"} {
		if err := d.Speak(context.Background(), reply, "", path); err != nil {
			t.Fatalf("Speak(%q): %v", reply, err)
		}
	}

	if player.CallCount() != 0 {
		t.Errorf("player used %d times, want 0", player.CallCount())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(pcm) != 4 || format.SampleRate != 22050 || format.Channels != 1 {
		t.Errorf("wav holds %d bytes at %+v; want one reply of 4 bytes", len(pcm), format)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the wav", len(entries))
	}
}

func TestSpeak_FileWithoutPlayer(t *testing.T) {
	b, _, _ := backends()
	d, err := speech.NewDispatcher(b, nil, "espeak")
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.Speak(context.Background(), "hi", "", ""); err == nil {
		t.Error("expected error when neither player nor file is available")
	}
	if err := d.Speak(context.Background(), "hi", "", filepath.Join(t.TempDir(), "a.wav")); err != nil {
		t.Errorf("Speak to file: %v", err)
	}
}

// blockingPlayer holds every Play until release is closed and records how
// many run at once.
type blockingPlayer struct {
	release chan struct{}

	mu      sync.Mutex
	active  int
	maxSeen int
}

func (p *blockingPlayer) Play(ctx context.Context, pcm <-chan []byte, _ audio.Format) error {
	p.mu.Lock()
	p.active++
	p.maxSeen = max(p.maxSeen, p.active)
	p.mu.Unlock()

	audio.Drain(pcm)
	<-p.release

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return nil
}

func TestSpeak_OneReplyAtATime(t *testing.T) {
	b, _, _ := backends()
	player := &blockingPlayer{release: make(chan struct{})}
	d, _ := speech.NewDispatcher(b, player, "espeak")

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Speak(context.Background(), "hi", "", "")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(player.release)
	wg.Wait()

	if player.maxSeen != 1 {
		t.Errorf("concurrent plays = %d, want 1", player.maxSeen)
	}
}

func TestSpeak_PlaybackErrorIsReturned(t *testing.T) {
	b, _, _ := backends()
	d, _ := speech.NewDispatcher(b, &audiomock.Player{PlayError: errors.New("device lost")}, "espeak")
	if err := d.Speak(context.Background(), "hi", "", ""); err == nil {
		t.Fatal("expected playback error")
	}
}

func TestSpeak_NoAudioIsAnError(t *testing.T) {
	silent := &ttsmock.Provider{} // closes its channel without a chunk
	b := map[string]tts.Provider{"espeak": silent}

	t.Run("play", func(t *testing.T) {
		player := &audiomock.Player{}
		d, _ := speech.NewDispatcher(b, player, "espeak")
		if err := d.Speak(context.Background(), "hi", "", ""); !errors.Is(err, speech.ErrNoAudio) {
			t.Fatalf("err = %v, want ErrNoAudio", err)
		}
		if player.CallCount() != 0 {
			t.Errorf("player used %d times for a silent reply", player.CallCount())
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reply.wav")
		previous := audio.EncodeWAV([]byte{1, 0, 2, 0}, audio.Format{SampleRate: 16000, Channels: 1})
		if err := os.WriteFile(path, previous, 0o644); err != nil {
			t.Fatal(err)
		}
		d, _ := speech.NewDispatcher(b, nil, "espeak")
		if err := d.Speak(context.Background(), "hi", "", path); !errors.Is(err, speech.ErrNoAudio) {
			t.Fatalf("err = %v, want ErrNoAudio", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(got) != string(previous) {
			t.Error("previous reply was overwritten by a silent one")
		}
		if entries, _ := os.ReadDir(filepath.Dir(path)); len(entries) != 1 {
			t.Errorf("directory has %d entries, want only the previous wav", len(entries))
		}
	})
}

func TestBackends_Sorted(t *testing.T) {
	b, _, _ := backends()
	d, _ := speech.NewDispatcher(b, nil, "espeak")
	if got := d.Backends(); len(got) != 2 || got[0] != "coqui" || got[1] != "espeak" {
		t.Errorf("Backends = %v", got)
	}
}
