package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/audio/mock"
	"github.com/MrWong99/misssmart/pkg/audio/playback"
)

// chunk returns a mono 24 kHz buffer lasting d.
func chunk(d time.Duration) audio.Buffer {
	n := int(d * 24000 / time.Second)
	return audio.NewMonoBuffer(make([]float32, n), 24000)
}

func openOutput(t *testing.T, opts ...playback.Option) (*playback.Output, *mock.Device) {
	t.Helper()
	dev := &mock.Device{}
	out := playback.NewOutput(dev, opts...)
	if err := out.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { out.Close() })
	return out, dev
}

// waitDone waits for h to finish or fails the test.
func waitDone(t *testing.T, h *playback.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("handle %d never finished: %v", h.ID, err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSchedule_BackToBack(t *testing.T) {
	t.Parallel()

	out, dev := openOutput(t)
	s := out.Scheduler()

	// Scenario: three chunks of 0.5s, 0.3s and 0.2s arrive at t=1.00, 1.05, 1.10.
	dev.SetNow(time.Second)
	h1, err := s.Schedule(chunk(500 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule 1: %v", err)
	}
	dev.SetNow(1050 * time.Millisecond)
	h2, _ := s.Schedule(chunk(300 * time.Millisecond))
	dev.SetNow(1100 * time.Millisecond)
	h3, _ := s.Schedule(chunk(200 * time.Millisecond))

	want := []time.Duration{time.Second, 1500 * time.Millisecond, 1800 * time.Millisecond}
	for i, h := range []*playback.Handle{h1, h2, h3} {
		if h.Start != want[i] {
			t.Errorf("chunk %d start = %v; want %v", i+1, h.Start, want[i])
		}
	}
	if got := s.Next(); got != 2*time.Second {
		t.Errorf("Next = %v; want 2s", got)
	}
	for i, p := range dev.Calls() {
		if p.At != want[i] {
			t.Errorf("device play %d at %v; want %v", i+1, p.At, want[i])
		}
	}
	if s.Live() != 3 || !s.Speaking() {
		t.Errorf("live = %d speaking = %v; want 3 true", s.Live(), s.Speaking())
	}
}

func TestSchedule_LateChunkStartsNow(t *testing.T) {
	t.Parallel()

	out, dev := openOutput(t)
	s := out.Scheduler()

	h1, _ := s.Schedule(chunk(100 * time.Millisecond))
	dev.Advance(time.Second)
	waitDone(t, h1)

	h2, err := s.Schedule(chunk(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if h2.Start != time.Second {
		t.Errorf("start = %v; want 1s (device now)", h2.Start)
	}
}

func TestSchedule_NaturalEndLeavesLiveSet(t *testing.T) {
	t.Parallel()

	out, dev := openOutput(t)
	s := out.Scheduler()

	h1, _ := s.Schedule(chunk(200 * time.Millisecond))
	h2, _ := s.Schedule(chunk(200 * time.Millisecond))

	dev.Advance(200 * time.Millisecond)
	waitDone(t, h1)
	if h1.Stopped() {
		t.Error("h1 reported stopped after natural end")
	}
	eventually(t, func() bool { return s.Live() == 1 }, "live set never shrank to 1")

	dev.Advance(200 * time.Millisecond)
	waitDone(t, h2)
	eventually(t, func() bool { return !s.Speaking() }, "scheduler still speaking after all chunks ended")
}

func TestStopAll(t *testing.T) {
	t.Parallel()

	out, dev := openOutput(t)
	s := out.Scheduler()
	gen := s.Generation()

	var handles []*playback.Handle
	for range 3 {
		h, err := s.Schedule(chunk(time.Second))
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		handles = append(handles, h)
	}

	s.StopAll()

	if s.Live() != 0 || s.Speaking() {
		t.Errorf("after StopAll live = %d speaking = %v; want 0 false", s.Live(), s.Speaking())
	}
	if s.Next() != 0 {
		t.Errorf("Next = %v; want 0", s.Next())
	}
	if s.Generation() != gen+1 {
		t.Errorf("Generation = %d; want %d", s.Generation(), gen+1)
	}
	for i, h := range handles {
		waitDone(t, h)
		if !h.Stopped() {
			t.Errorf("handle %d not marked stopped", i)
		}
	}
	for i, p := range dev.Calls() {
		if !p.Voice.Stopped() {
			t.Errorf("device voice %d not stopped", i)
		}
	}

	// After a reset the next chunk starts at the device clock, not at the
	// old timeline end.
	dev.SetNow(250 * time.Millisecond)
	h, _ := s.Schedule(chunk(100 * time.Millisecond))
	if h.Start != 250*time.Millisecond {
		t.Errorf("start after StopAll = %v; want 250ms", h.Start)
	}
}

func TestStopAll_IgnoresStopErrors(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{StopErr: errors.New("already stopped")}
	out := playback.NewOutput(dev)
	if err := out.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	s := out.Scheduler()

	h, _ := s.Schedule(chunk(time.Second))
	s.StopAll()
	waitDone(t, h)
	if s.Speaking() {
		t.Error("still speaking after StopAll with failing voices")
	}
}

func TestStopAll_Idempotent(t *testing.T) {
	t.Parallel()

	out, _ := openOutput(t)
	s := out.Scheduler()

	s.StopAll()
	s.StopAll()
	if s.Speaking() || s.Live() != 0 {
		t.Error("StopAll on empty scheduler changed state")
	}
}

func TestScheduleIn_StaleGeneration(t *testing.T) {
	t.Parallel()

	out, dev := openOutput(t)
	s := out.Scheduler()

	gen := s.Generation()
	s.StopAll()

	if _, err := s.ScheduleIn(gen, chunk(time.Second)); !errors.Is(err, playback.ErrStale) {
		t.Fatalf("err = %v; want ErrStale", err)
	}
	if len(dev.Calls()) != 0 {
		t.Error("stale chunk reached the device")
	}
	if _, err := s.ScheduleIn(s.Generation(), chunk(time.Second)); err != nil {
		t.Errorf("current generation rejected: %v", err)
	}
}

func TestSchedule_Errors(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	out := playback.NewOutput(dev)
	s := out.Scheduler()

	if _, err := s.Schedule(chunk(time.Second)); !errors.Is(err, playback.ErrOutputClosed) {
		t.Errorf("before Open: err = %v; want ErrOutputClosed", err)
	}
	if err := out.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(audio.Buffer{SampleRate: 24000}); !errors.Is(err, playback.ErrEmptyBuffer) {
		t.Errorf("empty buffer: err = %v; want ErrEmptyBuffer", err)
	}

	dev.PlayErr = errors.New("device gone")
	if _, err := s.Schedule(chunk(time.Second)); err == nil {
		t.Error("expected device error")
	}
	if s.Speaking() {
		t.Error("failed play left scheduler speaking")
	}

	out.Close()
	if _, err := s.Schedule(chunk(time.Second)); !errors.Is(err, playback.ErrOutputClosed) {
		t.Errorf("after Close: err = %v; want ErrOutputClosed", err)
	}
}

func TestOutput_Lifecycle(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	out := playback.NewOutput(dev)
	if out.IsOpen() {
		t.Fatal("new output should not be open")
	}
	if err := out.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := out.Open(context.Background()); err != nil {
		t.Errorf("second Open: %v", err)
	}
	if dev.CallCountOpen != 1 {
		t.Errorf("device opened %d times; want 1", dev.CallCountOpen)
	}

	h, _ := out.Scheduler().Schedule(chunk(time.Second))
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitDone(t, h)
	if !h.Stopped() {
		t.Error("Close did not stop live audio")
	}
	if err := out.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if dev.CallCountClose != 1 {
		t.Errorf("device closed %d times; want 1", dev.CallCountClose)
	}
	if err := out.Open(context.Background()); !errors.Is(err, playback.ErrOutputClosed) {
		t.Errorf("reopen: err = %v; want ErrOutputClosed", err)
	}
}

func TestOutput_OpenError(t *testing.T) {
	t.Parallel()

	out := playback.NewOutput(&mock.Device{OpenErr: errors.New("no device")})
	if err := out.Open(context.Background()); err == nil {
		t.Fatal("expected open error")
	}
	if out.IsOpen() {
		t.Error("output open after failed Open")
	}
}

func TestSpeakingEdges(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var edges []bool
	out, dev := openOutput(t, playback.WithOnSpeaking(func(speaking bool) {
		mu.Lock()
		defer mu.Unlock()
		edges = append(edges, speaking)
	}))
	s := out.Scheduler()

	h1, _ := s.Schedule(chunk(100 * time.Millisecond))
	s.Schedule(chunk(100 * time.Millisecond))
	dev.Advance(100 * time.Millisecond)
	waitDone(t, h1)
	s.StopAll()
	s.StopAll()

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v; want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v; want %v", i, edges[i], want[i])
		}
	}
}

func TestOnScheduled(t *testing.T) {
	t.Parallel()

	var count int
	out, _ := openOutput(t, playback.WithOnScheduled(func(*playback.Handle) { count++ }))
	out.Scheduler().Schedule(chunk(10 * time.Millisecond))
	out.Scheduler().Schedule(chunk(10 * time.Millisecond))
	if count != 2 {
		t.Errorf("OnScheduled called %d times; want 2", count)
	}
}

func TestSchedule_ConcurrentCallersKeepOrder(t *testing.T) {
	t.Parallel()

	out, _ := openOutput(t)
	s := out.Scheduler()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Schedule(chunk(50 * time.Millisecond))
		}()
	}
	wg.Wait()

	if s.Live() != 20 {
		t.Fatalf("live = %d; want 20", s.Live())
	}
	if s.Next() != time.Second {
		t.Errorf("Next = %v; want 1s (20 x 50ms with no overlap)", s.Next())
	}
}
