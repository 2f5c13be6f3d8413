package turn_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxloop/internal/conversation"
	"github.com/MrWong99/voxloop/internal/dispatch"
	"github.com/MrWong99/voxloop/internal/endpoint"
	"github.com/MrWong99/voxloop/internal/listen"
	"github.com/MrWong99/voxloop/internal/observe"
	"github.com/MrWong99/voxloop/internal/sessionlog"
	"github.com/MrWong99/voxloop/internal/speech"
	"github.com/MrWong99/voxloop/internal/turn"
	"github.com/MrWong99/voxloop/pkg/audio"
	audiomock "github.com/MrWong99/voxloop/pkg/audio/mock"
	"github.com/MrWong99/voxloop/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxloop/pkg/provider/llm/mock"
	"github.com/MrWong99/voxloop/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxloop/pkg/provider/stt/mock"
	"github.com/MrWong99/voxloop/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxloop/pkg/provider/tts/mock"
)

// ---- fixtures ----

func frame(level float32) audio.Frame {
	s := make([]float32, 3200)
	for i := range s {
		s[i] = level
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

// spoken returns n utterances, each one loud frame followed by enough silence
// to end it under the default 1.2s pause.
func spoken(n int) []audio.Frame {
	var out []audio.Frame
	for range n {
		out = append(out, frame(0.4))
		for range 6 {
			out = append(out, frame(0))
		}
	}
	return out
}

func silence(n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = frame(0)
	}
	return out
}

type rig struct {
	source  *audiomock.Source
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	tts     *ttsmock.Provider
	player  *audiomock.Player
	session *conversation.Session
	logs    *recordingLogger
	driver  *turn.Driver
}

type rigOption func(*rigConfig)

type rigConfig struct {
	endpoint endpoint.Config
	llm      llm.Provider
	logger   sessionlog.Logger
	session  *conversation.Session
	opts     []turn.Option
}

func withEndpoint(mut func(*endpoint.Config)) rigOption {
	return func(c *rigConfig) { mut(&c.endpoint) }
}

func withLLM(p llm.Provider) rigOption { return func(c *rigConfig) { c.llm = p } }

func withLogger(l sessionlog.Logger) rigOption { return func(c *rigConfig) { c.logger = l } }

func withSession(s *conversation.Session) rigOption {
	return func(c *rigConfig) { c.session = s }
}

func withDriverOptions(opts ...turn.Option) rigOption {
	return func(c *rigConfig) { c.opts = append(c.opts, opts...) }
}

func newRig(t *testing.T, frames []audio.Frame, transcripts []string, replies []string, opts ...rigOption) *rig {
	t.Helper()
	r := &rig{
		source: &audiomock.Source{Frames: frames},
		stt:    &sttmock.Provider{},
		llm:    &llmmock.Provider{Replies: replies},
		tts:    &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 0, 2, 0}}},
		player: &audiomock.Player{},
		logs:   &recordingLogger{},
	}
	for _, s := range transcripts {
		r.stt.Results = append(r.stt.Results, stt.Transcript{Text: s})
	}
	cfg := rigConfig{endpoint: endpoint.DefaultConfig(), llm: r.llm, logger: r.logs, session: conversation.New("")}
	for _, o := range opts {
		o(&cfg)
	}

	listener, err := listen.New(r.source, cfg.endpoint)
	if err != nil {
		t.Fatalf("listen.New: %v", err)
	}
	transcriber, _ := dispatch.NewTranscriber(r.stt)
	responder, _ := dispatch.NewResponder(cfg.llm)
	speaker, err := speech.NewDispatcher(map[string]tts.Provider{"espeak": r.tts}, r.player, "espeak")
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	r.session = cfg.session

	r.driver, err = turn.New(turn.Deps{
		Capturer:    listener,
		Transcriber: transcriber,
		Responder:   responder,
		Speaker:     speaker,
		Session:     r.session,
		Logger:      cfg.logger,
	}, cfg.opts...)
	if err != nil {
		t.Fatalf("turn.New: %v", err)
	}
	return r
}

type recordingLogger struct {
	mu      sync.Mutex
	records []sessionlog.Record
	ctxErr  error
	err     error
}

func (l *recordingLogger) Log(ctx context.Context, rec sessionlog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	l.ctxErr = ctx.Err()
	return l.err
}

func roles(turns []conversation.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(string(t.Role)[:1])
	}
	return sb.String()
}

// ---- single turns ----

func TestStep_CompleteTurn(t *testing.T) {
	r := newRig(t, spoken(1), []string{" What's the weather "}, []string{"It's sunny"})

	done, err := r.driver.Step(context.Background())
	if done || err != nil {
		t.Fatalf("Step = %v, %v; want a finished, non-final turn", done, err)
	}

	h := r.session.Snapshot()
	if len(h) != 3 {
		t.Fatalf("history length = %d, want 3: %+v", len(h), h)
	}
	if h[1] != (conversation.Turn{Role: conversation.RoleUser, Content: "What's the weather"}) ||
		h[2] != (conversation.Turn{Role: conversation.RoleAssistant, Content: "It's sunny"}) {
		t.Errorf("history = %+v", h)
	}
	if calls := r.tts.Calls(); len(calls) != 1 || calls[0].Text != "It's sunny" {
		t.Errorf("tts calls = %+v, want one with the exact reply", calls)
	}
	if r.player.CallCount() != 1 {
		t.Errorf("plays = %d, want 1", r.player.CallCount())
	}
	if msgs := r.llm.Calls()[0].Req.Messages; len(msgs) != 2 || msgs[0].Role != llm.RoleSystem {
		t.Errorf("llm saw %+v, want system + user", msgs)
	}
	if r.driver.State() != turn.Idle {
		t.Errorf("state = %v, want idle", r.driver.State())
	}
	if r.source.OpenStreams() != 0 {
		t.Error("capture stream left open")
	}
}

func TestStep_SilenceMakesNoServiceCalls(t *testing.T) {
	r := newRig(t, silence(10), nil, nil, withEndpoint(func(c *endpoint.Config) {
		c.NoSpeechTimeout = time.Second
	}))

	done, err := r.driver.Step(context.Background())
	if done || err != nil {
		t.Fatalf("Step = %v, %v", done, err)
	}
	if r.stt.CallCount() != 0 || len(r.llm.Calls()) != 0 || len(r.tts.Calls()) != 0 {
		t.Error("a silent turn reached a service")
	}
	if r.session.Len() != 1 {
		t.Errorf("history length = %d, want 1", r.session.Len())
	}
	if r.driver.State() != turn.Idle {
		t.Errorf("state = %v, want idle", r.driver.State())
	}
}

func TestStep_RecoverableFailures(t *testing.T) {
	tests := []struct {
		name        string
		transcripts []string
		sttErr      error
		llm         llm.Provider
		wantRoles   string
		wantLLM     bool
	}{
		{name: "empty transcription", transcripts: []string{"  "}, wantRoles: "s"},
		{name: "transcription failure", sttErr: errors.New("server down"), wantRoles: "s"},
		{name: "response failure", transcripts: []string{"hello"}, llm: &llmmock.Provider{CompleteErr: errors.New("401")}, wantRoles: "su", wantLLM: true},
		{name: "missing credential", transcripts: []string{"hello"}, llm: llm.Unavailable{}, wantRoles: "su", wantLLM: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []rigOption
			if tt.llm != nil {
				opts = append(opts, withLLM(tt.llm))
			}
			r := newRig(t, spoken(1), tt.transcripts, []string{"unused"}, opts...)
			r.stt.Err = tt.sttErr

			done, err := r.driver.Step(context.Background())
			if done || err != nil {
				t.Fatalf("Step = %v, %v; want the loop to continue", done, err)
			}
			if got := roles(r.session.Snapshot()); got != tt.wantRoles {
				t.Errorf("history roles = %q, want %q", got, tt.wantRoles)
			}
			if !tt.wantLLM && len(r.llm.Calls()) != 0 {
				t.Error("response service called")
			}
			if len(r.tts.Calls()) != 0 {
				t.Error("speech synthesised without a reply")
			}
			if r.driver.State() != turn.Idle {
				t.Errorf("state = %v, want idle", r.driver.State())
			}
		})
	}
}

func TestStep_UnknownBackendFailsOnlySpeech(t *testing.T) {
	r := newRig(t, spoken(1), []string{"hi"}, []string{"hello"}, withDriverOptions(turn.WithBackend("festival")))

	done, err := r.driver.Step(context.Background())
	if done || err != nil {
		t.Fatalf("Step = %v, %v", done, err)
	}
	if got := roles(r.session.Snapshot()); got != "sua" {
		t.Errorf("history roles = %q, want sua", got)
	}
	if r.player.CallCount() != 0 {
		t.Error("played audio with an unknown backend")
	}
}

func TestStep_SilentSynthesisIsASpeechFailure(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	r := newRig(t, spoken(1), []string{"hi"}, []string{"hello"}, withDriverOptions(turn.WithMetrics(m)))
	r.tts.SynthesizeChunks = nil

	done, err := r.driver.Step(context.Background())
	if done || err != nil {
		t.Fatalf("Step = %v, %v; want the loop to continue", done, err)
	}
	if got := roles(r.session.Snapshot()); got != "sua" {
		t.Errorf("history roles = %q, want sua", got)
	}
	if r.player.CallCount() != 0 {
		t.Error("played a reply without sound")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxloop.turns" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				outcomes[v.AsString()] += dp.Value
			}
		}
	}
	if outcomes[observe.OutcomeTTSFailed] != 1 || outcomes[observe.OutcomeCompleted] != 0 {
		t.Errorf("turn outcomes = %v, want one %s", outcomes, observe.OutcomeTTSFailed)
	}
}

func TestStep_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.wav")
	r := newRig(t, spoken(1), []string{"hi"}, []string{"hello"}, withDriverOptions(turn.WithOutputFile(path)))

	if _, err := r.driver.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if r.player.CallCount() != 0 {
		t.Error("reply was played although an output file is set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file: %v", err)
	}
}

// stateSpy records the driver state each collaborator observes.
type stateSpy struct {
	driver *turn.Driver
	seen   []turn.State
}

func (s *stateSpy) Capture(context.Context) (listen.Result, error) {
	s.seen = append(s.seen, s.driver.State())
	u := &audio.Utterance{}
	u.Append(frame(0.4))
	return listen.Result{Utterance: u}, nil
}

func (s *stateSpy) Transcribe(context.Context, *audio.Utterance) (string, error) {
	s.seen = append(s.seen, s.driver.State())
	return "hi", nil
}

func (s *stateSpy) Respond(context.Context, []conversation.Turn) (string, error) {
	s.seen = append(s.seen, s.driver.State())
	return "hello", nil
}

func (s *stateSpy) Speak(context.Context, string, string, string) error {
	s.seen = append(s.seen, s.driver.State())
	return nil
}

func TestStep_StateSequence(t *testing.T) {
	spy := &stateSpy{}
	d, err := turn.New(turn.Deps{
		Capturer: spy, Transcriber: spy, Responder: spy, Speaker: spy,
		Session: conversation.New(""),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	spy.driver = d

	if d.State() != turn.Idle {
		t.Fatalf("initial state = %v", d.State())
	}
	if _, err := d.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	want := []turn.State{turn.CapturingUtterance, turn.Transcribing, turn.AwaitingResponse, turn.Speaking}
	if len(spy.seen) != len(want) {
		t.Fatalf("seen = %v, want %v", spy.seen, want)
	}
	for i := range want {
		if spy.seen[i] != want[i] {
			t.Errorf("stage %d saw %v, want %v", i, spy.seen[i], want[i])
		}
	}
	if d.State() != turn.Idle {
		t.Errorf("final state = %v, want idle", d.State())
	}
}

// ---- whole sessions ----

func TestRun_TerminationPhraseEndsAndLogsSession(t *testing.T) {
	r := newRig(t, spoken(2), []string{"What's the weather", "GOODBYE!"}, []string{"It's sunny"})

	if err := r.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.driver.State() != turn.Terminated {
		t.Errorf("state = %v, want terminated", r.driver.State())
	}
	if len(r.llm.Calls()) != 1 {
		t.Errorf("llm calls = %d, want 1: no reply to the termination phrase", len(r.llm.Calls()))
	}
	if len(r.logs.records) != 1 {
		t.Fatalf("records = %d, want 1", len(r.logs.records))
	}
	rec := r.logs.records[0]
	if roles(rec.Turns) != "suau" || rec.Turns[3].Content != "GOODBYE!" {
		t.Errorf("logged turns = %+v", rec.Turns)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Error("record ends before it starts")
	}

	// Further calls are no-ops.
	if done, err := r.driver.Step(context.Background()); !done || err != nil {
		t.Errorf("Step after termination = %v, %v", done, err)
	}
}

func TestRun_WritesSessionLogFile(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	fl := sessionlog.NewFileLogger(dir, sessionlog.WithLocation(time.UTC))
	path := fl.Path(start)
	if err := os.WriteFile(path, []byte("earlier content\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newRig(t, spoken(3), []string{"hi", "how are you", "goodbye"}, []string{"hello", "fine"},
		withLogger(fl),
		withSession(conversation.New("", conversation.WithStartTime(start))),
		withDriverOptions(turn.WithClock(func() time.Time { return start.Add(90 * time.Second) })),
	)

	if err := r.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "earlier content\n") {
		t.Error("earlier content was disturbed")
	}
	if strings.Count(out, "[Conversation Started at 2024-03-01 09:30:00]") != 1 ||
		strings.Count(out, "[Conversation Ended at 2024-03-01 09:31:30]") != 1 {
		t.Errorf("want exactly one block:\n%s", out)
	}
	if n := strings.Count(out, "\nuser: \n") + strings.Count(out, "\nassistant: \n"); n != 5 {
		t.Errorf("non-system turn entries = %d, want 5:\n%s", n, out)
	}
}

func TestRun_InterruptEndsAndLogsSession(t *testing.T) {
	r := newRig(t, nil, nil, nil) // capture blocks until cancelled
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if err := r.driver.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.driver.State() != turn.Terminated {
		t.Errorf("state = %v, want terminated", r.driver.State())
	}
	if len(r.logs.records) != 1 {
		t.Fatalf("records = %d, want 1", len(r.logs.records))
	}
	if r.logs.ctxErr != nil {
		t.Errorf("log context already cancelled: %v", r.logs.ctxErr)
	}
	if r.source.OpenStreams() != 0 {
		t.Error("capture stream left open after interrupt")
	}
}

func TestRun_CaptureFailureEndsSession(t *testing.T) {
	r := newRig(t, nil, nil, nil)
	r.source.OpenError = errors.New("no default input device")

	err := r.driver.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no default input device") {
		t.Fatalf("Run = %v, want the device error", err)
	}
	if len(r.logs.records) != 1 {
		t.Errorf("records = %d, want the session logged anyway", len(r.logs.records))
	}
}

func TestRun_LogFailureIsReported(t *testing.T) {
	r := newRig(t, spoken(1), []string{"goodbye"}, nil)
	r.logs.err = errors.New("disk full")
	if err := r.driver.Run(context.Background()); err == nil {
		t.Fatal("expected log error")
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	if _, err := turn.New(turn.Deps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[turn.State]string{
		turn.Idle: "idle", turn.CapturingUtterance: "capturing", turn.Transcribing: "transcribing",
		turn.AwaitingResponse: "awaiting_response", turn.Speaking: "speaking", turn.Terminated: "terminated",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
