package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/misssmart/internal/app"
	"github.com/MrWong99/misssmart/internal/config"
	"github.com/MrWong99/misssmart/internal/lesson"
	"github.com/MrWong99/misssmart/pkg/audio"
	"github.com/MrWong99/misssmart/pkg/memory"
	"github.com/MrWong99/misssmart/pkg/provider/llm"
	llmmock "github.com/MrWong99/misssmart/pkg/provider/llm/mock"
	s2smock "github.com/MrWong99/misssmart/pkg/provider/s2s/mock"
	ttsmock "github.com/MrWong99/misssmart/pkg/provider/tts/mock"
)

const scriptJSON = `{"warmUp":"Hello!","vocabulary":"Cat.","pronunciation":"Say cat.","phonics":"C says k.","song":"La la.","activity":"Point.","revision":"Bye!"}`

// testConfig returns a defaulted config listening on a random port.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "gemini", Model: "test"},
			TTS: config.ProviderEntry{Name: "gemini"},
			S2S: config.ProviderEntry{Name: "gemini-live"},
		},
		Teacher: config.TeacherConfig{Name: "Miss Smart", Voice: "Kore"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mock providers for every slot.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: scriptJSON}},
		TTS: &ttsmock.Synthesizer{Result: audio.EncodeFrame(make([]float32, 2400), audio.OutputRate)},
		S2S: &s2smock.Provider{Session: s2smock.NewSession()},
		TTSFallbacks: []app.NamedSynthesizer{
			{Name: "openai", Synthesizer: &ttsmock.Synthesizer{}},
		},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithMetricsHandler(http.NotFoundHandler()),
	}, opts...)
	a, err := app.New(context.Background(), cfg, testProviders(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("New() without providers succeeded")
	}
	for _, want := range []string{"providers.llm", "providers.tts", "providers.s2s"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNew_InMemoryDefaults(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	h := a.Handler()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d; want 200", rec.Code)
	}
	rec := get(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d; want 200: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"narration":"ok"`) {
		t.Errorf("/readyz body = %s; want narration check", rec.Body)
	}
	if rec := get(t, h, "/api/curriculum?grade=KG2"); rec.Code != http.StatusOK {
		t.Errorf("/api/curriculum status = %d; want 200", rec.Code)
	}
}

func TestNew_LessonsAreCached(t *testing.T) {
	t.Parallel()

	scripts := &lesson.MemoryStore{}
	a := newApp(t, testConfig(), app.WithScriptStore(scripts), app.WithTranscripts(&memory.LocalStore{}))

	for range 2 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/lessons",
			strings.NewReader(`{"grade":"KG1","unit_id":1,"mode":"immersion"}`))
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST /api/lessons status = %d; want 200: %s", rec.Code, rec.Body)
		}
	}
	if n := scripts.Len(); n != 1 {
		t.Errorf("cached scripts = %d; want 1", n)
	}
}

func TestNew_CurriculumFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "curriculum.yaml")
	data := "grades:\n  KG1:\n    - id: 7\n      title: Space\n      vocabulary: [moon, star]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := testConfig()
	cfg.Lessons.CurriculumFile = path

	a := newApp(t, cfg)
	rec := get(t, a.Handler(), "/api/curriculum?grade=KG1")
	if !strings.Contains(rec.Body.String(), `"Space"`) {
		t.Errorf("curriculum = %s; want the Space unit", rec.Body)
	}

	cfg = testConfig()
	cfg.Lessons.CurriculumFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(context.Background(), cfg, testProviders()); err == nil {
		t.Error("New() with a missing curriculum file succeeded")
	}
}

func TestApp_UpdateTeacher(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())
	if got := a.Teacher().Name; got != "Miss Smart" {
		t.Errorf("Teacher().Name = %q; want Miss Smart", got)
	}
	a.UpdateTeacher(config.TeacherConfig{Name: "Miss Nour", Voice: "Puck", Mode: "immersion"})
	if got := a.Teacher(); got.Name != "Miss Nour" || got.Voice != "Puck" {
		t.Errorf("Teacher() = %+v; want updated settings", got)
	}
}

func TestApp_ShutdownFailsReadiness(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	rec := get(t, a.Handler(), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d; want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "draining") {
		t.Errorf("/readyz body = %s; want draining", rec.Body)
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Run() did not start listening within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d; want 200", resp.StatusCode)
	}

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if _, err := http.Get("http://" + a.Addr().String() + "/healthz"); err == nil {
		t.Error("server still answering after Shutdown")
	}
}
