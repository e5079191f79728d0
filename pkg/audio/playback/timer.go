package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
)

// Sink receives chunks from a [TimerDevice]. A remote player (for example a
// browser on the other end of a WebSocket) implements it and is expected to
// start chunk id at offset at on its own clock, which began when the device
// was opened.
//
// Both methods are called with scheduler locks held and must not block.
type Sink interface {
	Start(id uint64, at time.Duration, buf audio.Buffer) error
	Cancel(id uint64) error
}

var errVoiceFinished = errors.New("playback: chunk already finished")

// TimerDevice is a [Device] that forwards chunks to a [Sink] and tracks their
// completion with wall-clock timers. Its clock starts at zero when opened.
type TimerDevice struct {
	sink Sink

	mu    sync.Mutex
	epoch time.Time
	seq   uint64
}

var (
	_ Device = (*TimerDevice)(nil)
	_ Opener = (*TimerDevice)(nil)
)

// NewTimerDevice creates a device that forwards to sink.
func NewTimerDevice(sink Sink) *TimerDevice {
	return &TimerDevice{sink: sink, epoch: time.Now()}
}

// Open resets the device clock to zero.
func (d *TimerDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch = time.Now()
	return nil
}

// Now returns the time elapsed since Open.
func (d *TimerDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.epoch)
}

// Play forwards buf to the sink with at unchanged and arms a timer for its
// end. The scheduler picked at from an earlier reading of the clock, so
// moving it here would open an overlap with the previous chunk.
func (d *TimerDevice) Play(buf audio.Buffer, at time.Duration) (Voice, error) {
	d.mu.Lock()
	d.seq++
	id := d.seq
	now := time.Since(d.epoch)
	d.mu.Unlock()

	if err := d.sink.Start(id, at, buf); err != nil {
		return nil, err
	}

	v := &timerVoice{id: id, sink: d.sink, done: make(chan struct{})}
	v.timer = time.AfterFunc(max(0, at+buf.Duration()-now), v.finish)
	return v, nil
}

type timerVoice struct {
	id    uint64
	sink  Sink
	timer *time.Timer
	done  chan struct{}
	once  sync.Once
}

func (v *timerVoice) finish() {
	v.once.Do(func() { close(v.done) })
}

func (v *timerVoice) Done() <-chan struct{} { return v.done }

// Stop cancels the chunk at the sink unless it has already ended.
func (v *timerVoice) Stop() error {
	if !v.timer.Stop() {
		v.finish()
		return errVoiceFinished
	}
	v.finish()
	return v.sink.Cancel(v.id)
}
