// Package tutor ties one child's classroom together: the lesson in progress,
// the narration pipeline, the live conversation and the shared audio output.
//
// A [Classroom] owns one [playback.Output]. Narration and the live session
// both schedule onto its timeline, so the Classroom enforces the rules that
// keep them apart: narration is refused while a live session exists, and a
// live session starts by stopping whatever narration is queued.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/internal/live"
	"github.com/MrWong99/misssmart/internal/narration"
	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/internal/practice"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/memory"
	"github.com/MrWong99/misssmart/pkg/provider/s2s"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

var (
	// ErrLiveSessionActive is returned by the narration operations while a
	// live session is connecting, active or closing. Nothing is synthesized.
	ErrLiveSessionActive = errors.New("tutor: live session active")

	// ErrNoLesson is returned by stage operations before SelectUnit succeeded.
	ErrNoLesson = errors.New("tutor: no lesson selected")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("tutor: classroom closed")
)

const (
	defaultEventBuffer = 128
	journalTimeout     = 5 * time.Second
)

// Config holds the collaborators of a [Classroom]. Output, Microphone,
// Synthesizer, Realtime and Generator are required.
type Config struct {
	// Output is the open audio output narration and live audio play on.
	// The Classroom closes it.
	Output *playback.Output

	// Microphone is the child's microphone, used by live sessions.
	Microphone capture.Microphone

	// Synthesizer renders narration.
	Synthesizer tts.Synthesizer

	// Realtime opens live conversations.
	Realtime s2s.Provider

	// Generator writes lesson scripts.
	Generator lesson.Generator

	// Curriculum defaults to [lesson.DefaultCurriculum].
	Curriculum *lesson.Curriculum

	// Persona renders prompts, greetings and speech style.
	Persona lesson.Persona

	// Voice is the narration voice. Its Instructions are replaced by the
	// persona's speech style for the current mode.
	Voice tts.VoiceProfile

	// LiveVoice is the voice requested for live sessions. Empty uses the
	// provider default.
	LiveVoice string

	// Mode is the teaching mode used before a unit is selected. Defaults to
	// [lesson.ModeBilingual].
	Mode lesson.Mode

	// Transcripts stores the conversation. Nil keeps it in memory.
	Transcripts memory.SessionStore

	// Tracker tallies practised vocabulary. Nil uses default spotting.
	Tracker *practice.Tracker

	// Metrics is optional.
	Metrics *observe.Metrics

	// TTSName and S2SName label provider metrics.
	TTSName string
	S2SName string

	// EventBuffer bounds queued events. Defaults to 128.
	EventBuffer int

	// CaptureWindow is the number of 16 kHz samples per live frame. Zero
	// keeps the live session default.
	CaptureWindow int
}

// Progress is a snapshot of the lesson in progress.
type Progress struct {
	Grade     lesson.Grade     `json:"grade,omitempty"`
	Unit      *lesson.Unit     `json:"unit,omitempty"`
	Mode      lesson.Mode      `json:"mode"`
	Stage     int              `json:"stage"`
	StageKey  string           `json:"stage_key,omitempty"`
	Finished  bool             `json:"finished"`
	Practiced []practice.Count `json:"practiced"`
	Remaining []string         `json:"remaining"`
}

// Classroom is one child's session. All exported methods are safe for
// concurrent use.
type Classroom struct {
	id         string
	out        *playback.Output
	sched      *playback.Scheduler
	narrator   *narration.Narrator
	live       *live.Session
	generator  lesson.Generator
	curriculum *lesson.Curriculum
	persona    lesson.Persona
	voice      tts.VoiceProfile
	liveVoice  string
	journal    *Journal
	tracker    *practice.Tracker
	metrics    *observe.Metrics

	mu       sync.Mutex
	closed   bool
	mode     lesson.Mode
	grade    lesson.Grade
	unit     *lesson.Unit
	script   *lesson.Script
	stage    lesson.Stage
	finished bool

	evMu     sync.Mutex
	evClosed bool
	events   chan Event
	dropped  atomic.Uint64

	forwarded chan struct{}
}

// New builds a Classroom identified by id.
func New(id string, cfg Config) (*Classroom, error) {
	var errs []error
	if cfg.Output == nil {
		errs = append(errs, errors.New("output is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if cfg.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if cfg.Realtime == nil {
		errs = append(errs, errors.New("realtime provider is required"))
	}
	if cfg.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("tutor: new classroom: %w", err)
	}

	if cfg.Curriculum == nil {
		cfg.Curriculum = lesson.DefaultCurriculum()
	}
	if cfg.Mode == "" {
		cfg.Mode = lesson.ModeBilingual
	}
	if cfg.Tracker == nil {
		cfg.Tracker = practice.NewTracker(nil)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	sched := cfg.Output.Scheduler()

	narrOpts := []narration.Option{narration.WithMetrics(cfg.Metrics)}
	if cfg.TTSName != "" {
		narrOpts = append(narrOpts, narration.WithProviderName(cfg.TTSName))
	}
	liveOpts := []live.Option{live.WithMetrics(cfg.Metrics)}
	if cfg.S2SName != "" {
		liveOpts = append(liveOpts, live.WithProviderName(cfg.S2SName))
	}
	if cfg.CaptureWindow > 0 {
		liveOpts = append(liveOpts, live.WithWindowSize(cfg.CaptureWindow))
	}

	c := &Classroom{
		id:         id,
		out:        cfg.Output,
		sched:      sched,
		narrator:   narration.New(cfg.Synthesizer, sched, narrOpts...),
		live:       live.New(cfg.Microphone, cfg.Realtime, sched, liveOpts...),
		generator:  cfg.Generator,
		curriculum: cfg.Curriculum,
		persona:    cfg.Persona,
		voice:      cfg.Voice,
		liveVoice:  cfg.LiveVoice,
		journal:    NewJournal(cfg.Transcripts),
		tracker:    cfg.Tracker,
		metrics:    cfg.Metrics,
		mode:       cfg.Mode,
		events:     make(chan Event, cfg.EventBuffer),
		forwarded:  make(chan struct{}),
	}

	sched.OnSpeakingChange(func(speaking bool) {
		c.emit(Event{Kind: EventSpeaking, Speaking: speaking})
	})
	go c.forward()

	return c, nil
}

// ID returns the classroom identifier. Transcripts are journaled under it.
func (c *Classroom) ID() string { return c.id }

// Events returns the classroom event stream. It is closed by Close.
func (c *Classroom) Events() <-chan Event { return c.events }

// Dropped reports how many events were discarded because the consumer fell
// behind.
func (c *Classroom) Dropped() uint64 { return c.dropped.Load() }

// Journal returns the transcript journal.
func (c *Classroom) Journal() *Journal { return c.journal }

// LiveState returns the live session state.
func (c *Classroom) LiveState() live.State { return c.live.State() }

// ── Lesson ─────────────────────────────────────────────────────────────────

// SelectUnit generates the script for a unit and rewinds to its first stage.
// The previous lesson stays in place if generation fails.
func (c *Classroom) SelectUnit(ctx context.Context, grade lesson.Grade, unitID int, mode lesson.Mode) (*lesson.Script, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	unit, err := c.curriculum.Unit(grade, unitID)
	if err != nil {
		return nil, fmt.Errorf("tutor: select unit: %w", err)
	}

	ctx = observe.WithClassroom(ctx, c.id)
	ctx, span := observe.StartSpan(ctx, "tutor.select_unit",
		observe.GradeKey.String(string(grade)),
		observe.UnitKey.Int(unitID),
		observe.ModeKey.String(string(mode)),
	)
	defer span.End()

	start := time.Now()
	script, err := c.generator.Generate(ctx, grade, unit, mode)
	if c.metrics != nil {
		c.metrics.LessonDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("grade", string(grade)), observe.Attr("mode", string(mode))))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tutor: select unit: %w", err)
	}

	c.mu.Lock()
	c.grade = grade
	c.unit = &unit
	c.mode = mode
	c.script = script
	c.stage = lesson.StageWarmUp
	c.finished = false
	c.mu.Unlock()

	c.tracker.Reset(unit.Vocabulary)

	observe.Logger(ctx).Info("tutor: unit selected",
		"grade", grade,
		"unit_id", unitID,
		"mode", mode,
	)
	return script, nil
}

// Progress returns the current lesson position and practice tally.
func (c *Classroom) Progress() Progress {
	c.mu.Lock()
	p := Progress{
		Grade:    c.grade,
		Unit:     c.unit,
		Mode:     c.mode,
		Stage:    int(c.stage),
		Finished: c.finished,
	}
	if c.script != nil {
		p.StageKey = c.stage.Key()
	}
	c.mu.Unlock()

	p.Practiced = c.tracker.Practiced()
	p.Remaining = c.tracker.Remaining()
	if p.Remaining == nil {
		p.Remaining = []string{}
	}
	return p
}

// SpeakStage narrates the current stage of the lesson.
func (c *Classroom) SpeakStage(ctx context.Context) (*playback.Handle, error) {
	c.mu.Lock()
	if c.script == nil {
		c.mu.Unlock()
		return nil, ErrNoLesson
	}
	text := c.script.Text(c.stage)
	c.mu.Unlock()
	return c.Speak(ctx, text)
}

// NextStage advances the lesson. On the last stage it stays put, marks the
// lesson finished and speaks the celebration; the returned handle is nil
// otherwise.
func (c *Classroom) NextStage(ctx context.Context) (lesson.Stage, *playback.Handle, error) {
	c.mu.Lock()
	if c.script == nil {
		c.mu.Unlock()
		return 0, nil, ErrNoLesson
	}
	if !c.stage.Last() {
		c.stage++
		stage := c.stage
		c.mu.Unlock()
		return stage, nil, nil
	}
	c.finished = true
	stage, mode := c.stage, c.mode
	c.mu.Unlock()

	h, err := c.Speak(ctx, c.persona.Celebration(mode))
	return stage, h, err
}

// Greet speaks the persona's greeting for the current mode.
func (c *Classroom) Greet(ctx context.Context) (*playback.Handle, error) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	return c.Speak(ctx, c.persona.Greeting(mode))
}

// Speak narrates text in the teacher's voice. It is refused with
// [ErrLiveSessionActive] unless the live session is idle.
func (c *Classroom) Speak(ctx context.Context, text string) (*playback.Handle, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	// Starting a live session bumps the generation after leaving Idle, so
	// reading it before the state check makes a racing start drop this
	// utterance.
	gen := c.sched.Generation()
	if st := c.live.State(); st != live.StateIdle {
		return nil, fmt.Errorf("tutor: speak: %w (%s)", ErrLiveSessionActive, st)
	}

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	voice := c.voice
	voice.Instructions = c.persona.SpeechStyle(mode)

	h, err := c.narrator.SpeakIn(observe.WithClassroom(ctx, c.id), gen, text, voice)
	if err != nil {
		return nil, fmt.Errorf("tutor: speak: %w", err)
	}
	c.transcript(ctx, memory.RoleTeacher, text, time.Time{})
	return h, nil
}

// StopAudio stops every queued or playing utterance.
func (c *Classroom) StopAudio() {
	c.sched.StopAll()
}

// ── Live ───────────────────────────────────────────────────────────────────

// StartLive opens a live conversation in the current mode; the session
// silences any narration once it leaves Idle. The lesson unit, if any, is
// added to the instructions.
func (c *Classroom) StartLive(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.mu.Lock()
	instructions := c.persona.LiveInstructions(c.mode)
	if c.unit != nil {
		instructions += fmt.Sprintf("\n\nToday's unit: %s. Words to practise: %s.",
			c.unit.Title, strings.Join(c.unit.Vocabulary, ", "))
	}
	c.mu.Unlock()

	if err := c.live.Start(ctx, s2s.SessionConfig{Voice: c.liveVoice, Instructions: instructions}); err != nil {
		return fmt.Errorf("tutor: start live: %w", err)
	}
	return nil
}

// StopLive ends the live conversation. It is a no-op when none is running.
func (c *Classroom) StopLive() error {
	if err := c.live.Stop(); err != nil {
		return fmt.Errorf("tutor: stop live: %w", err)
	}
	return nil
}

// SendText sends a typed message into the live conversation.
func (c *Classroom) SendText(text string) error {
	if err := c.live.SendText(text); err != nil {
		return fmt.Errorf("tutor: send text: %w", err)
	}
	c.transcript(context.Background(), memory.RoleChild, text, time.Time{})
	return nil
}

// Close ends the live session, stops all audio, closes the output and the
// event stream. It is idempotent.
func (c *Classroom) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.live.Close(); err != nil {
		errs = append(errs, err)
	}
	<-c.forwarded

	c.sched.OnSpeakingChange(nil)
	c.sched.StopAll()
	if err := c.out.Close(); err != nil && !errors.Is(err, playback.ErrOutputClosed) {
		errs = append(errs, err)
	}

	c.evMu.Lock()
	c.evClosed = true
	close(c.events)
	c.evMu.Unlock()

	slog.Info("tutor: classroom closed", "classroom_id", c.id)
	return errors.Join(errs...)
}

func (c *Classroom) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// forward relays live session events until the session is closed.
func (c *Classroom) forward() {
	defer close(c.forwarded)
	for ev := range c.live.Events() {
		switch ev.Kind {
		case live.EventStateChanged:
			c.emit(Event{Kind: EventLiveState, LiveState: ev.State})
		case live.EventInterrupted:
			c.emit(Event{Kind: EventInterrupted})
		case live.EventTurnComplete:
			c.emit(Event{Kind: EventTurnComplete})
		case live.EventError:
			c.emit(Event{Kind: EventError, Err: ev.Err})
		case live.EventTranscript:
			c.onTranscript(ev.Transcript)
		}
	}
}

func (c *Classroom) onTranscript(tr s2s.Transcript) {
	if strings.TrimSpace(tr.Text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	role := memory.RoleTeacher
	if tr.Role == s2s.RoleUser {
		role = memory.RoleChild
	}
	c.transcript(ctx, role, tr.Text, tr.Timestamp)

	if role != memory.RoleChild {
		return
	}
	if hits := c.tracker.Observe(tr.Text); len(hits) > 0 {
		c.emit(Event{Kind: EventPractice, Hits: hits})
	}
}

// transcript journals one line and publishes it. A zero at means now.
func (c *Classroom) transcript(ctx context.Context, role, text string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	entry := memory.TranscriptEntry{Role: role, Text: text, Timestamp: at.UTC()}
	_ = c.journal.WriteEntry(ctx, c.id, entry)
	c.emit(Event{Kind: EventTranscript, Transcript: entry})
}

// emit never blocks. Events that do not fit the buffer are dropped.
func (c *Classroom) emit(ev Event) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("tutor: event consumer too slow, dropping events",
				"classroom_id", c.id, "kind", ev.Kind, "dropped", n)
		}
	}
}
