package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"medscan-go/config"
	"medscan-go/internal/catalog"
	"medscan-go/internal/core/models"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/core/vision"
	"medscan-go/internal/db"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/server/sse"

	"github.com/gin-gonic/gin"
)

type fakeRecognizer struct {
	mu        sync.Mutex
	snap      recognizer.Snapshot
	labels    *recognizer.LabelSet
	toggleErr error
	retryErr  error
}

func (f *fakeRecognizer) Snapshot() recognizer.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeRecognizer) Stats() recognizer.Stats { return recognizer.Stats{Ticks: 3, Polling: true} }

func (f *fakeRecognizer) Labels() *recognizer.LabelSet { return f.labels }

func (f *fakeRecognizer) ToggleFacing(context.Context) (vision.Facing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.snap.Facing.Opposite(), f.toggleErr
	}
	f.snap.Facing = f.snap.Facing.Opposite()
	return f.snap.Facing, nil
}

func (f *fakeRecognizer) Retry(context.Context) error { return f.retryErr }

type testEnv struct {
	router *gin.Engine
	loop   *fakeRecognizer
	repo   *repository.SQLiteRepository
	hub    *sse.Hub
	events interface{ Observe(recognizer.Snapshot) }
}

func newTestEnv(t *testing.T, withRepo bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	labels, err := recognizer.NewLabelSet(cat.Names())
	if err != nil {
		t.Fatal(err)
	}
	loop := &fakeRecognizer{
		labels: labels,
		snap: recognizer.Snapshot{
			State:  recognizer.State{Label: "Ibuprofen", Confidence: 0.91, Status: recognizer.StatusConfident},
			Facing: vision.FacingBack,
			Top:    []recognizer.Score{{Label: "Ibuprofen", Confidence: 0.91}},
			Seq:    1,
		},
	}

	env := &testEnv{loop: loop, hub: sse.NewHub()}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.hub.Run(ctx)

	deps := Deps{Loop: loop, Catalog: cat, Hub: env.hub}
	if withRepo {
		gdb, err := db.Open(config.DBConfig{File: ":memory:"})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close(gdb) })
		env.repo = repository.NewSQLiteRepository(gdb)
		deps.Repo = env.repo
	}

	router, events, err := NewRouter(config.ServerConfig{SessionSecret: "test"}, deps)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	env.router = router
	env.events = events
	return env
}

func (e *testEnv) do(t *testing.T, method, path, lang string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestGetStateLocalized(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/state", "de-DE")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["message"] != "Ibuprofen (91% Konfidenz)" || got["language"] != "de" {
		t.Errorf("state = %v", got)
	}
	if med, _ := got["medicine"].(map[string]any); med["name"] != "Ibuprofen" {
		t.Errorf("medicine = %v", got["medicine"])
	}
}

func TestListLabels(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/labels", "")
	var body struct {
		Count  int `json:"count"`
		Labels []struct {
			Index int    `json:"index"`
			Name  string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 20 || body.Labels[0].Name != "Azathioprine" || body.Labels[19].Index != 19 {
		t.Errorf("labels = %+v", body)
	}
}

func TestCameraEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/camera/toggle", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"facing":"front"`) {
		t.Errorf("toggle = %d %s", w.Code, w.Body.String())
	}

	env.loop.toggleErr = vision.ErrDevice
	w = env.do(t, http.MethodPost, "/api/camera/toggle", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("failed toggle = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/camera/retry", "")
	if w.Code != http.StatusOK {
		t.Errorf("retry = %d", w.Code)
	}
	env.loop.retryErr = vision.ErrModelLoad
	w = env.do(t, http.MethodPost, "/api/camera/retry", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("retry with model error = %d", w.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	for _, label := range []string{"Quinine", "Tramadol"} {
		if err := env.repo.SaveEvent(&models.RecognitionEvent{Label: label, Confidence: 0.8}); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/history?limit=1", "")
	var page struct {
		Events []models.RecognitionEvent `json:"events"`
		Total  int64                     `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Events) != 1 {
		t.Errorf("page = %+v", page)
	}

	w = env.do(t, http.MethodGet, "/api/history?label=Quinine", "")
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Events[0].Label != "Quinine" {
		t.Errorf("filtered page = %+v", page)
	}

	if w := env.do(t, http.MethodGet, "/api/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/history/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing event = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/history/stats", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"total_events":2`) {
		t.Errorf("stats = %d %s", w.Code, w.Body.String())
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	if w := env.do(t, http.MethodGet, "/api/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("history without repo = %d", w.Code)
	}
}

func TestSystemAndIndex(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/api/system", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ticks":3`) {
		t.Errorf("system = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/?lang=de", "")
	if w.Code != http.StatusOK {
		t.Fatalf("index = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Medikamenten-Scanner") || !strings.Contains(body, "Ibuprofen (91% Konfidenz)") {
		t.Errorf("index page not localized:\n%s", body)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	req.Header.Set("Accept-Language", "en")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data:"); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	next := func() map[string]any {
		t.Helper()
		select {
		case data, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			var v map[string]any
			if err := json.Unmarshal([]byte(data), &v); err != nil {
				t.Fatalf("bad event %q: %v", data, err)
			}
			return v
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
		return nil
	}

	first := next()
	if first["message"] != "Ibuprofen (91% confidence)" {
		t.Errorf("initial event = %v", first)
	}

	// warten, bis der Client beim Hub registriert ist
	for env.hub.ClientCount() == 0 && ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	env.events.Observe(recognizer.Snapshot{
		State: recognizer.State{Confidence: 0.4, Status: recognizer.StatusUncertain},
		Seq:   2,
	})
	second := next()
	if second["status"] != "uncertain" || !strings.HasPrefix(second["message"].(string), "Medicine not recognized (40%") {
		t.Errorf("second event = %v", second)
	}
}
