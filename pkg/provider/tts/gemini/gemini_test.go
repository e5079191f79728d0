package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/provider/tts"
)

type fakeAPI struct {
	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
	keys   []string
	reply  string
	status int
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.paths = append(f.paths, r.URL.Path)
	f.keys = append(f.keys, r.Header.Get("x-goog-api-key"))
	reply, status := f.reply, f.status
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func audioReply(pcm []byte, mime string) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"` + mime +
		`","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}}]}}]}`
}

func newTestSynth(t *testing.T, api *fakeAPI, opts ...Option) *Synthesizer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), "test-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestSynthesize_ReturnsFrame(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0, 3, 0}
	api := &fakeAPI{reply: audioReply(pcm, "audio/L16;codec=pcm;rate=24000")}
	s := newTestSynth(t, api)

	f, err := s.Synthesize(context.Background(), "Hello, friends!", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if f.MIMEType != audio.PCMMIMEType(24000) {
		t.Errorf("MIMEType = %q; want %q", f.MIMEType, audio.PCMMIMEType(24000))
	}
	buf, err := audio.DecodeFrame(f, 1)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if buf.Len() != 3 {
		t.Errorf("decoded %d samples; want 3", buf.Len())
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.paths) != 1 || !strings.HasSuffix(api.paths[0], defaultModel+":generateContent") {
		t.Errorf("paths = %v; want one call to %s:generateContent", api.paths, defaultModel)
	}
	if api.keys[0] != "test-key" {
		t.Errorf("api key header = %q; want test-key", api.keys[0])
	}
	raw, _ := json.Marshal(api.bodies[0])
	for _, want := range []string{`"AUDIO"`, `"voiceName":"Kore"`, `Hello, friends!`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("request body missing %s: %s", want, raw)
		}
	}
}

func TestSynthesize_VoiceAndInstructions(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: audioReply([]byte{0, 0}, "audio/L16;codec=pcm;rate=24000")}
	s := newTestSynth(t, api, WithModel("custom-tts"))

	_, err := s.Synthesize(context.Background(), "Apple", tts.VoiceProfile{ID: "Puck", Instructions: "Say slowly"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if !strings.HasSuffix(api.paths[0], "custom-tts:generateContent") {
		t.Errorf("path = %q; want custom-tts model", api.paths[0])
	}
	raw, _ := json.Marshal(api.bodies[0])
	if !strings.Contains(string(raw), `"voiceName":"Puck"`) {
		t.Errorf("voice not forwarded: %s", raw)
	}
	if !strings.Contains(string(raw), "Say slowly: Apple") {
		t.Errorf("instructions not prefixed: %s", raw)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
	}{
		{"no candidates", `{"candidates":[]}`},
		{"text only", `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`},
		{"empty audio", audioReply(nil, "audio/L16;codec=pcm;rate=24000")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSynth(t, &fakeAPI{reply: tt.reply})
			if _, err := s.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); !errors.Is(err, tts.ErrNoAudio) {
				t.Errorf("err = %v; want ErrNoAudio", err)
			}
		})
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{status: http.StatusBadRequest, reply: `{"error":{"code":400,"message":"bad voice","status":"INVALID_ARGUMENT"}}`}
	s := newTestSynth(t, api)
	if _, err := s.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Error("expected error from 400 response")
	}
}

func TestSynthesize_OddByteCount(t *testing.T) {
	t.Parallel()

	s := newTestSynth(t, &fakeAPI{reply: audioReply([]byte{1, 2, 3}, "audio/L16;codec=pcm;rate=24000")})
	if _, err := s.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Errorf("err = %v; want ErrMalformedFrame", err)
	}
}
