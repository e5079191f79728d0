package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/internal/tutor"
	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/capture"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
)

const (
	// outboxSize bounds messages queued for one browser.
	outboxSize = 256

	// commandQueueSize bounds commands waiting behind a slow one.
	commandQueueSize = 32

	// writeTimeout bounds a single websocket write.
	writeTimeout = 10 * time.Second

	// readLimit caps one inbound frame. A second of 48 kHz float32 audio is
	// 192 KiB.
	readLimit = 1 << 20
)

// errSlowClient is returned to the playback device when the browser stopped
// draining its outbox.
var errSlowClient = errors.New("gateway: client too slow")

// errBusy is reported when a client sends commands faster than they run.
var errBusy = errors.New("gateway: too many pending commands")

// socket is one connected browser. It is the [playback.Sink] of the
// classroom's output and the source of its microphone.
type socket struct {
	id        string
	conn      *websocket.Conn
	mic       *capture.Pipe
	inputRate int
	outbox    chan message
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger

	// queue feeds runCommands. The epochs count stop_audio and stop_live;
	// a queued command that would start audio or a live session is skipped
	// when a stop arrived after it.
	queue      chan queuedCommand
	audioEpoch atomic.Uint64
	liveEpoch  atomic.Uint64
}

type queuedCommand struct {
	cmd        command
	audioEpoch uint64
	liveEpoch  uint64
}

var _ playback.Sink = (*socket)(nil)

func newSocket(id string, conn *websocket.Conn, inputRate int) *socket {
	return &socket{
		id:        id,
		conn:      conn,
		mic:       capture.NewPipe(0),
		inputRate: inputRate,
		outbox:    make(chan message, outboxSize),
		done:      make(chan struct{}),
		log:       slog.With("classroom_id", id),
		queue:     make(chan queuedCommand, commandQueueSize),
	}
}

// Start implements [playback.Sink]. The chunk is sent as 16-bit PCM.
func (s *socket) Start(id uint64, at time.Duration, buf audio.Buffer) error {
	frame := audio.EncodeFrame(audio.Downmix(buf), buf.SampleRate)
	return s.send(message{
		Type: msgAudio,
		ID:   id,
		AtMS: at.Milliseconds(),
		Rate: buf.SampleRate,
		Data: frame.Data,
	})
}

// Cancel implements [playback.Sink].
func (s *socket) Cancel(id uint64) error {
	return s.send(message{Type: msgStop, ID: id})
}

// send queues m without blocking.
func (s *socket) send(m message) error {
	select {
	case <-s.done:
		return errSlowClient
	default:
	}
	select {
	case s.outbox <- m:
		return nil
	default:
		s.log.Warn("gateway: outbox full, dropping message", "type", m.Type)
		return errSlowClient
	}
}

// sendErr reports a failed command to the browser.
func (s *socket) sendErr(err error) {
	_ = s.send(errorMessage(err))
}

func (s *socket) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// writeLoop drains the outbox until ctx ends.
func (s *socket) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.outbox:
			data, err := json.Marshal(m)
			if err != nil {
				s.log.Error("gateway: encode message", "type", m.Type, "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = s.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("gateway: write: %w", err)
			}
		}
	}
}

// pumpEvents forwards classroom events until the classroom closes.
func (s *socket) pumpEvents(room *tutor.Classroom) error {
	for ev := range room.Events() {
		var m message
		switch ev.Kind {
		case tutor.EventSpeaking:
			speaking := ev.Speaking
			m = message{Type: msgSpeaking, Speaking: &speaking}
		case tutor.EventLiveState:
			m = message{Type: msgState, State: ev.LiveState.String()}
		case tutor.EventInterrupted:
			m = message{Type: msgInterrupted}
		case tutor.EventTurnComplete:
			m = message{Type: msgTurnComplete}
		case tutor.EventTranscript:
			m = message{Type: msgTranscript, Role: ev.Transcript.Role, Text: ev.Transcript.Text}
		case tutor.EventPractice:
			m = message{Type: msgPractice, Hits: ev.Hits}
		case tutor.EventError:
			m = errorMessage(ev.Err)
		default:
			continue
		}
		_ = s.send(m)
	}
	return nil
}

// readLoop reads inbound frames until the connection ends. Binary frames
// are microphone audio; text frames are commands.
//
// Commands take effect in the order they were sent. mic, stop_audio and
// stop_live are applied on this goroutine; everything else is queued for
// runCommands, so a slow synthesis never delays a stop.
func (s *socket) readLoop(ctx context.Context, room *tutor.Classroom) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			s.onAudio(data)
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendErr(fmt.Errorf("%w: %v", errBadRequest, err))
			continue
		}
		if s.applyNow(room, cmd) {
			continue
		}
		select {
		case s.queue <- queuedCommand{cmd: cmd, audioEpoch: s.audioEpoch.Load(), liveEpoch: s.liveEpoch.Load()}:
		default:
			s.sendErr(fmt.Errorf("%w: %s dropped", errBusy, cmd.Type))
		}
	}
}

// applyNow handles the commands that must not wait behind queued work. It
// reports false for everything else.
func (s *socket) applyNow(room *tutor.Classroom, cmd command) bool {
	switch cmd.Type {
	case cmdMic:
		if cmd.Enabled != nil && !*cmd.Enabled {
			s.mic.Detach("microphone turned off")
			return true
		}
		rate := cmd.Rate
		if rate <= 0 {
			rate = s.inputRate
		}
		s.mic.Attach(rate)

	case cmdStopAudio:
		s.audioEpoch.Add(1)
		room.StopAudio()

	case cmdStopLive:
		s.liveEpoch.Add(1)
		if err := room.StopLive(); err != nil {
			s.sendErr(err)
		}

	default:
		return false
	}
	return true
}

// runCommands executes queued commands one at a time until ctx ends.
func (s *socket) runCommands(ctx context.Context, room *tutor.Classroom) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-s.queue:
			if s.superseded(q) {
				s.log.Debug("gateway: skipping command cancelled by a later stop", "type", q.cmd.Type)
				continue
			}
			s.dispatch(ctx, room, q.cmd)
		}
	}
}

func (s *socket) superseded(q queuedCommand) bool {
	switch q.cmd.Type {
	case cmdSpeak, cmdSpeakStage, cmdGreet:
		return q.audioEpoch != s.audioEpoch.Load()
	case cmdStartLive:
		return q.liveEpoch != s.liveEpoch.Load()
	}
	return false
}

func (s *socket) onAudio(data []byte) {
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		s.log.Debug("gateway: malformed microphone frame", "bytes", len(data), "err", err)
		return
	}
	s.mic.Write(samples)
}

func (s *socket) dispatch(ctx context.Context, room *tutor.Classroom, cmd command) {
	s.log.Debug("gateway: command", "type", cmd.Type)

	switch cmd.Type {
	case cmdSelectUnit:
		grade, err := lesson.ParseGrade(cmd.Grade)
		if err != nil {
			s.sendErr(fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		mode, err := lesson.ParseMode(cmd.Mode)
		if err != nil {
			s.sendErr(fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		script, err := room.SelectUnit(ctx, grade, cmd.UnitID, mode)
		if err != nil {
			s.sendErr(err)
			return
		}
		p := room.Progress()
		_ = s.send(message{Type: msgScript, Script: script, Progress: &p})

	case cmdSpeakStage:
		if _, err := room.SpeakStage(ctx); err != nil {
			s.sendErr(err)
		}

	case cmdSpeak:
		if _, err := room.Speak(ctx, cmd.Text); err != nil {
			s.sendErr(err)
		}

	case cmdNextStage:
		stage, _, err := room.NextStage(ctx)
		if errors.Is(err, tutor.ErrNoLesson) {
			s.sendErr(err)
			return
		}
		_ = s.send(message{Type: msgStage, Stage: newStageInfo(stage, room.Progress().Finished)})
		if err != nil {
			// The stage advanced but the celebration could not be spoken.
			s.sendErr(err)
		}

	case cmdGreet:
		if _, err := room.Greet(ctx); err != nil {
			s.sendErr(err)
		}

	case cmdStartLive:
		if err := room.StartLive(ctx); err != nil {
			s.sendErr(err)
		}

	case cmdSendText:
		if err := room.SendText(cmd.Text); err != nil {
			s.sendErr(err)
		}

	case cmdProgress:
		p := room.Progress()
		_ = s.send(message{Type: msgProgress, Progress: &p})

	default:
		s.sendErr(fmt.Errorf("%w: unknown message type %q", errBadRequest, cmd.Type))
	}
}
