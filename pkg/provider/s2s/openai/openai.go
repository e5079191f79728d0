// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Audio is transmitted as base64-encoded PCM16 at 24 kHz; microphone frames at
// other rates are resampled before they are appended to the input buffer.
// Server-side voice activity detection drives barge-in: every speech_started
// event is surfaced as s2s.EventInterrupted.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
	defaultVoice   = "coral"

	// realtimeRate is the only PCM16 rate the Realtime API accepts and emits.
	realtimeRate = 24000

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		MaxSessionDuration: 30 * time.Minute,
		InputRate:          realtimeRate,
		OutputRate:         realtimeRate,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
		DefaultVoice:       defaultVoice,
	}
}

// Connect dials the Realtime endpoint, sends session.update and blocks until
// the server confirms it with session.updated.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(4 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	if err := sess.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:                   voice,
			Instructions:            cfg.Instructions,
			Modalities:              []string{"audio", "text"},
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &transcriptionParams{Model: "whisper-1"},
			TurnDetection:           &turnDetection{Type: "server_vad"},
		},
	}); err != nil {
		sess.abort("session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := sess.awaitSessionUpdated(ctx); err != nil {
		sess.abort("session update not acknowledged")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d *serverErrorDetail) err() error {
	if d == nil || d.Message == "" {
		return fmt.Errorf("openai: server error")
	}
	return fmt.Errorf("openai: server error: %s", d.Message)
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// fatalErrorCodes end the session. Other error events (e.g. a cancel with no
// active response) are logged and ignored.
var fatalErrorCodes = map[string]bool{
	"invalid_api_key":    true,
	"session_expired":    true,
	"insufficient_quota": true,
	"model_not_found":    true,
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentTxText strings.Builder

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// awaitSessionUpdated reads until the server confirms the session
// configuration.
func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return evt.Error.err()
		}
	}
}

// abort tears down a session that never became ready.
func (s *session) abort(reason string) {
	s.cancel()
	s.conn.Close(websocket.StatusInternalError, reason)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeEvents()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent translates one Realtime event. It returns false when the
// receive loop must stop.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.done":
		return s.emit(s2s.Event{Kind: s2s.EventTurnComplete})

	case "input_audio_buffer.speech_started":
		// Model audio usually arrives faster than it plays, so the child may
		// talk over speech that is still queued locally after response.done.
		return s.emit(s2s.Event{Kind: s2s.EventInterrupted})

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(s2s.Event{
			Kind:  s2s.EventAudio,
			Audio: audio.Frame{Data: evt.Delta, MIMEType: audio.PCMMIMEType(realtimeRate)},
		})

	case "response.audio_transcript.delta":
		s.mu.Lock()
		s.currentTxText.WriteString(evt.Delta)
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText.String()
		s.currentTxText.Reset()
		s.mu.Unlock()
		if text != "" {
			return s.emitTranscript(s2s.RoleModel, text)
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" {
			return s.emitTranscript(s2s.RoleUser, evt.Transcript)
		}

	case "error":
		code := ""
		if evt.Error != nil {
			code = evt.Error.Code
		}
		if fatalErrorCodes[code] {
			s.setErr(evt.Error.err())
			return false
		}
		slog.Warn("openai realtime: non-fatal server error", "code", code, "err", evt.Error.err())
	}
	return true
}

func (s *session) emitTranscript(role, text string) bool {
	return s.emit(s2s.Event{
		Kind:       s2s.EventTranscript,
		Transcript: s2s.Transcript{Role: role, Text: text, Timestamp: time.Now()},
	})
}

func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeEvents() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio appends a microphone frame to the input buffer, resampling it to
// 24 kHz when needed.
func (s *session) SendAudio(frame audio.Frame) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	rate, err := frame.Rate()
	if err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	data := frame.Data
	if rate != realtimeRate {
		buf, err := audio.DecodeFrame(frame, 1)
		if err != nil {
			return fmt.Errorf("openai: send audio: %w", err)
		}
		data = audio.EncodeFrame(audio.ResampleMono(buf.Samples[0], rate, realtimeRate), realtimeRate).Data
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: data,
	})
}

// SendText adds a user text message and asks the model to respond to it.
func (s *session) SendText(text string) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the ordered remote event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
