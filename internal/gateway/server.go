// Package gateway is the HTTP and WebSocket surface the classroom UI talks
// to.
//
// Each WebSocket connection on /ws is one classroom. The browser plays the
// audio chunks the server schedules (audio/stop messages), streams its
// microphone as binary float32 frames, and drives the lesson with JSON
// commands. The REST endpoints serve the curriculum, pre-generate lesson
// scripts and return stored transcripts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/misssmart/internal/health"
	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/internal/observe"
	"github.com/MrWong99/misssmart/internal/tutor"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
	"github.com/MrWong99/misssmart/pkg/memory"
)

// ClassroomFactory builds the classroom for a new connection. out is open
// and mic is the connection's microphone.
type ClassroomFactory func(id string, out *playback.Output, mic capture.Microphone) (*tutor.Classroom, error)

// Config holds the dependencies of a [Server].
type Config struct {
	// NewClassroom is required.
	NewClassroom ClassroomFactory

	// Curriculum defaults to [lesson.DefaultCurriculum].
	Curriculum *lesson.Curriculum

	// Generator serves POST /api/lessons. When nil the endpoint answers 503.
	Generator lesson.Generator

	// Transcripts serves GET /api/sessions/{id}/transcript.
	Transcripts memory.SessionStore

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics is required by the request middleware. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler

	// AllowedOrigins are extra origin patterns accepted on /ws.
	AllowedOrigins []string

	// InputRate is the microphone sample rate assumed until the browser
	// reports its own.
	InputRate int
}

// Server routes HTTP requests and owns the connected classrooms.
type Server struct {
	cfg Config
	mux *http.ServeMux

	// ctx is the parent of every connection; Close cancels it.
	ctx  context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	closing    bool
	classrooms map[string]*tutor.Classroom
	wg         sync.WaitGroup
}

// New returns a Server with all routes registered.
func New(cfg Config) (*Server, error) {
	if cfg.NewClassroom == nil {
		return nil, errors.New("gateway: classroom factory is required")
	}
	if cfg.Curriculum == nil {
		cfg.Curriculum = lesson.DefaultCurriculum()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = 48000
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		ctx:        ctx,
		stop:       stop,
		classrooms: make(map[string]*tutor.Classroom),
	}

	api := observe.Middleware(cfg.Metrics)
	s.mux.Handle("GET /api/curriculum", api(http.HandlerFunc(s.handleCurriculum)))
	s.mux.Handle("POST /api/lessons", api(http.HandlerFunc(s.handleLesson)))
	s.mux.Handle("GET /api/sessions/{id}/transcript", api(http.HandlerFunc(s.handleTranscript)))
	s.mux.Handle("GET /api/classrooms", api(http.HandlerFunc(s.handleClassrooms)))
	s.mux.HandleFunc("GET /ws", s.handleSocket)
	s.mux.Handle("GET /metrics", cfg.MetricsHandler)
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	return s, nil
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Active returns the number of connected classrooms.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classrooms)
}

// Close refuses new sockets, disconnects every classroom and waits until
// their sessions are torn down or ctx ends.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway: close: %w", ctx.Err())
	}
}

func (s *Server) rooms() []*tutor.Classroom {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tutor.Classroom, 0, len(s.classrooms))
	for _, c := range s.classrooms {
		out = append(out, c)
	}
	return out
}

// ── REST ───────────────────────────────────────────────────────────────────

type curriculumResponse struct {
	Grade lesson.Grade  `json:"grade"`
	Units []lesson.Unit `json:"units"`
}

func (s *Server) handleCurriculum(w http.ResponseWriter, r *http.Request) {
	grades := lesson.Grades()
	if q := r.URL.Query().Get("grade"); q != "" {
		g, err := lesson.ParseGrade(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		grades = []lesson.Grade{g}
	}
	out := make([]curriculumResponse, 0, len(grades))
	for _, g := range grades {
		out = append(out, curriculumResponse{Grade: g, Units: s.cfg.Curriculum.Units(g)})
	}
	writeJSON(w, http.StatusOK, out)
}

type lessonRequest struct {
	Grade  string `json:"grade"`
	UnitID int    `json:"unit_id"`
	Mode   string `json:"mode"`
}

type lessonResponse struct {
	Grade  lesson.Grade   `json:"grade"`
	Unit   lesson.Unit    `json:"unit"`
	Mode   lesson.Mode    `json:"mode"`
	Script *lesson.Script `json:"script"`
}

func (s *Server) handleLesson(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generation_unavailable", errors.New("no script generator configured"))
		return
	}

	var req lessonRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	grade, err := lesson.ParseGrade(req.Grade)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	mode, err := lesson.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	unit, err := s.cfg.Curriculum.Unit(grade, req.UnitID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_unit", err)
		return
	}

	script, err := s.cfg.Generator.Generate(r.Context(), grade, unit, mode)
	if err != nil {
		observe.Logger(r.Context()).Warn("gateway: script generation failed",
			"grade", grade, "unit_id", unit.ID, "mode", mode, "err", err)
		writeError(w, http.StatusBadGateway, "generation_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, lessonResponse{Grade: grade, Unit: unit, Mode: mode, Script: script})
}

type transcriptLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
	At   string `json:"at"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "transcripts_unavailable", errors.New("no transcript store configured"))
		return
	}
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("session id: %w", err))
		return
	}
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("limit %q must be a non-negative integer", q))
			return
		}
		limit = n
	}

	entries, err := s.cfg.Transcripts.GetRecent(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	out := make([]transcriptLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, transcriptLine{Role: e.Role, Text: e.Text, At: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")})
	}
	writeJSON(w, http.StatusOK, out)
}

type classroomInfo struct {
	ID        string         `json:"id"`
	LiveState string         `json:"live_state"`
	Progress  tutor.Progress `json:"progress"`
}

func (s *Server) handleClassrooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.rooms()
	out := make([]classroomInfo, 0, len(rooms))
	for _, c := range rooms {
		out = append(out, classroomInfo{ID: c.ID(), LiveState: c.LiveState().String(), Progress: c.Progress()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

// ── WebSocket ──────────────────────────────────────────────────────────────

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	id := uuid.NewString()
	sock := newSocket(id, conn, s.cfg.InputRate)

	ctx, cancel := context.WithCancel(observe.WithClassroom(s.ctx, id))
	defer cancel()

	out := playback.NewOutput(playback.NewTimerDevice(sock))
	if err := out.Open(ctx); err != nil {
		conn.Close(websocket.StatusInternalError, "audio output unavailable")
		return
	}
	room, err := s.cfg.NewClassroom(id, out, sock.mic)
	if err != nil {
		slog.Error("gateway: create classroom", "classroom_id", id, "err", err)
		_ = out.Close()
		conn.Close(websocket.StatusInternalError, "classroom unavailable")
		return
	}

	s.mu.Lock()
	s.classrooms[id] = room
	s.mu.Unlock()
	s.cfg.Metrics.ActiveClassrooms.Add(ctx, 1)
	log := observe.Logger(ctx).With("remote", r.RemoteAddr)
	log.Info("gateway: classroom connected")

	p := room.Progress()
	_ = sock.send(message{Type: msgHello, ClassroomID: id, Progress: &p})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sock.writeLoop(gctx) })
	g.Go(func() error { return sock.pumpEvents(room) })

	cmdsDone := make(chan struct{})
	go func() {
		defer close(cmdsDone)
		sock.runCommands(gctx, room)
	}()
	readErr := sock.readLoop(gctx, room)

	cancel()
	<-cmdsDone
	sock.mic.Detach("classroom closed")
	if err := room.Close(); err != nil {
		log.Warn("gateway: close classroom", "err", err)
	}
	sock.shutdown()
	_ = g.Wait()

	s.mu.Lock()
	delete(s.classrooms, id)
	s.mu.Unlock()
	s.cfg.Metrics.ActiveClassrooms.Add(context.Background(), -1)

	switch status := websocket.CloseStatus(readErr); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Info("gateway: classroom disconnected")
	default:
		log.Info("gateway: classroom connection ended", "err", readErr)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// ── helpers ────────────────────────────────────────────────────────────────

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("gateway: encode response", "err", err)
	}
}
