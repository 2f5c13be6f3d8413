package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxloop/internal/config"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  listen_addr: ":9464"

providers:
  stt:
    name: whisper-native
    model: models/ggml-base.en.bin
  llm:
    name: openai
    model: gpt-4o-mini
    api_key: sk-test
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3.2
  tts:
    - name: espeak
    - name: coqui
      base_url: http://localhost:5002
  audio:
    name: portaudio
    options:
      input_device: USB
      output_buffer_frames: 512
  circuit_breaker:
    max_failures: 1
    reset_timeout: 1m

listen:
  sample_rate: 16000
  frame_duration: 100ms
  energy_threshold: 0.02
  pause_duration: 2s
  no_speech_timeout: 30s
  language: de

session:
  system_prompt: You are terse.
  termination_phrases: [bye]
  temperature: 0
  max_tokens: 200

speech:
  backend: coqui
  voice: Ana
  rate: 180
  volume: 0.5
  output_file: reply.wav

log:
  dir: /var/log/voxloop
`

// minimalYAML is the smallest config that validates.
const minimalYAML = `
providers:
  stt: {name: whisper, base_url: "http://localhost:8080"}
  llm: {name: openai}
  tts: [{name: espeak}]
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.STT.Model != "models/ggml-base.en.bin" {
		t.Errorf("stt.model = %q", cfg.Providers.STT.Model)
	}
	if n := len(cfg.Providers.LLM.Fallbacks); n != 1 || cfg.Providers.LLM.Fallbacks[0].Name != "ollama" {
		t.Errorf("llm.fallbacks = %+v", cfg.Providers.LLM.Fallbacks)
	}
	if got := cfg.Providers.TTSNames(); !slices.Equal(got, []string{"espeak", "coqui"}) {
		t.Errorf("tts names = %v", got)
	}
	if got := cfg.Providers.Audio.OptString("input_device"); got != "USB" {
		t.Errorf("audio input_device = %q", got)
	}
	if got := cfg.Providers.Audio.OptInt("output_buffer_frames"); got != 512 {
		t.Errorf("audio output_buffer_frames = %d", got)
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures != 1 || cb.ResetTimeout != time.Minute {
		t.Errorf("circuit_breaker = %+v", cb)
	}
	if cfg.Listen.FrameDuration != 100*time.Millisecond || cfg.Listen.PauseDuration != 2*time.Second {
		t.Errorf("listen durations = %v / %v", cfg.Listen.FrameDuration, cfg.Listen.PauseDuration)
	}
	if cfg.Listen.NoSpeechTimeout != 30*time.Second {
		t.Errorf("no_speech_timeout = %v", cfg.Listen.NoSpeechTimeout)
	}
	if cfg.Listen.FrameSize() != 1600 {
		t.Errorf("FrameSize = %d, want 1600", cfg.Listen.FrameSize())
	}
	if cfg.Session.Temperature == nil || *cfg.Session.Temperature != 0 {
		t.Errorf("explicit zero temperature was not kept: %v", cfg.Session.Temperature)
	}
	if !slices.Equal(cfg.Session.TerminationPhrases, []string{"bye"}) {
		t.Errorf("termination_phrases = %v", cfg.Session.TerminationPhrases)
	}
	if cfg.Speech.Backend != "coqui" || *cfg.Speech.Volume != 0.5 || cfg.Speech.Rate != 180 {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Log.Dir != "/var/log/voxloop" {
		t.Errorf("log.dir = %q", cfg.Log.Dir)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr = %q, want empty", cfg.Server.ListenAddr)
	}
	if cfg.Providers.Audio.Name != "portaudio" {
		t.Errorf("audio = %q, want portaudio", cfg.Providers.Audio.Name)
	}
	l := cfg.Listen
	if l.SampleRate != 16000 || l.FrameDuration != 200*time.Millisecond || l.PauseDuration != 1200*time.Millisecond {
		t.Errorf("listen = %+v", l)
	}
	if l.EnergyThreshold != 0.01 || l.NoSpeechTimeout != 0 || l.Language != "en" {
		t.Errorf("listen = %+v", l)
	}
	if cfg.Session.SystemPrompt != config.DefaultSystemPrompt {
		t.Errorf("system_prompt = %q", cfg.Session.SystemPrompt)
	}
	if !slices.Equal(cfg.Session.TerminationPhrases, []string{"goodbye", "good bye"}) {
		t.Errorf("termination_phrases = %v", cfg.Session.TerminationPhrases)
	}
	if *cfg.Session.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", *cfg.Session.Temperature)
	}
	if cfg.Speech.Backend != "espeak" || cfg.Speech.Rate != 150 || *cfg.Speech.Volume != 1 {
		t.Errorf("speech = %+v", cfg.Speech)
	}
	if cfg.Log.Dir != "conversations" {
		t.Errorf("log.dir = %q", cfg.Log.Dir)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxloop.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "nope.yaml") {
		t.Fatalf("err = %v, want error naming the file", err)
	}
}

// ── env expansion ────────────────────────────────────────────────────────────

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("VOXLOOP_TEST_KEY", "sk-from-env")
	yaml := `
providers:
  stt: {name: whisper, base_url: "${VOXLOOP_TEST_WHISPER:-http://localhost:9000}"}
  llm: {name: openai, api_key: "${VOXLOOP_TEST_KEY}"}
  tts: [{name: espeak}]
session:
  system_prompt: "Prices are in $USD."
`
	cfg := mustLoad(t, yaml)
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.BaseURL != "http://localhost:9000" {
		t.Errorf("base_url = %q, want fallback", cfg.Providers.STT.BaseURL)
	}
	if cfg.Session.SystemPrompt != "Prices are in $USD." {
		t.Errorf("bare $ was expanded: %q", cfg.Session.SystemPrompt)
	}
}

func TestExpandEnv_UnsetIsEmpty(t *testing.T) {
	t.Setenv("VOXLOOP_TEST_UNSET", "")
	got := string(config.ExpandEnv([]byte("key: ${VOXLOOP_TEST_UNSET}")))
	if got != "key: " {
		t.Errorf("ExpandEnv = %q", got)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty document",
			yaml: "",
			want: []string{"providers.stt.name", "providers.llm.name", "providers.tts"},
		},
		{
			name: "bad log level",
			yaml: minimalYAML + "server: {log_level: loud}\n",
			want: []string{"server.log_level"},
		},
		{
			name: "unknown speech backend",
			yaml: minimalYAML + "speech: {backend: coqui}\n",
			want: []string{`speech.backend "coqui"`},
		},
		{
			name: "duplicate tts",
			yaml: `
providers:
  stt: {name: whisper}
  llm: {name: openai}
  tts: [{name: espeak}, {name: espeak}]
`,
			want: []string{"duplicate"},
		},
		{
			name: "listen ranges",
			yaml: minimalYAML + "listen: {energy_threshold: 1.5, pause_duration: 50ms, no_speech_timeout: -1s}\n",
			want: []string{"energy_threshold", "pause_duration", "no_speech_timeout"},
		},
		{
			name: "volume out of range",
			yaml: minimalYAML + "speech: {volume: 1.5}\n",
			want: []string{"speech.volume"},
		},
		{
			name: "temperature out of range",
			yaml: minimalYAML + "session: {temperature: 3}\n",
			want: []string{"session.temperature"},
		},
		{
			name: "blank exact phrase",
			yaml: minimalYAML + "session: {termination_phrases: [goodbye, \"= \"]}\n",
			want: []string{"session.termination_phrases[1]"},
		},
		{
			name: "negative circuit breaker",
			yaml: minimalYAML + "  circuit_breaker: {max_failures: -1}\n",
			want: []string{"providers.circuit_breaker"},
		},
		{
			name: "fallback without name",
			yaml: `
providers:
  stt: {name: whisper, fallbacks: [{model: x}]}
  llm: {name: openai}
  tts: [{name: espeak}]
`,
			want: []string{"providers.stt.fallbacks[0].name"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
