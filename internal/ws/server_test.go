package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/doclens/backend/internal/config"
	"github.com/doclens/backend/internal/health"
	"github.com/doclens/backend/internal/hub"
	"github.com/doclens/backend/internal/metrics"
	"github.com/doclens/backend/internal/orchestrator"
	"github.com/doclens/backend/internal/session"
	"github.com/doclens/backend/internal/stage"
)

type stubRetriever struct{}

func (stubRetriever) IndexDocument(ctx context.Context, text string, metadata map[string]any) (string, error) {
	return "doc-1", nil
}
func (stubRetriever) ProbeAvailable(ctx context.Context) bool { return false }
func (stubRetriever) Query(ctx context.Context, text string, k int, hybrid bool) ([]stage.Document, error) {
	return nil, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzeDirect(ctx context.Context, text string) (*stage.Analysis, error) {
	return &stage.Analysis{Sections: map[string]string{"Key Points": "ok"}, RawText: "ok"}, nil
}
func (stubAnalyzer) AnalyzeWithContext(ctx context.Context, text string, docs []stage.Document) (*stage.Analysis, error) {
	return &stage.Analysis{RawText: "ok"}, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e stubExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return "", stage.ErrUnsupportedType
	}
	return e.text, e.err
}

func newTestServer(t *testing.T, extractor stage.Extractor) (*Server, *session.Store, *hub.Hub) {
	t.Helper()
	cfg := &config.Config{}
	store := session.NewStore()
	h := hub.New(64)
	m := metrics.New()
	orch := orchestrator.New(store, h, stubRetriever{}, stubAnalyzer{}, m, orchestrator.Options{})
	if extractor == nil {
		extractor = stubExtractor{text: "extracted words"}
	}
	return NewServer(cfg, store, h, orch, extractor, m, health.NewReporter()), store, h
}

func TestHandleSessionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSessionFound(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	created := store.Create("text-1", false)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got session.Session
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("response id = %q, want %q", got.ID, created.ID)
	}
	if got.Status != session.Processing {
		t.Errorf("response status = %v, want processing", got.Status)
	}
	if len(got.Steps) != 1 {
		t.Errorf("response steps = %d, want 1", len(got.Steps))
	}
}

func TestHandleAnalyzeEmptyText(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"text": "", "useRAG": false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-text", body)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if store.Count() != 0 {
		t.Error("rejected request must not create a session")
	}
}

func TestHandleAnalyzeAccepted(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"text": "hello world", "useRAG": false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-text", body)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var resp analyzeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("response missing sessionId")
	}
	if _, ok := store.Get(resp.SessionID); !ok {
		t.Error("returned session id not present in store")
	}
}

func TestHandleExtractNoFile(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/extract-text", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func multipartUpload(t *testing.T, filename, mimeType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHandleExtractSuccess(t *testing.T) {
	srv, _, _ := newTestServer(t, stubExtractor{text: "words from image"})

	body, contentType := multipartUpload(t, "scan.png", "image/png", "fakeimagedata")
	req := httptest.NewRequest(http.MethodPost, "/api/extract-text", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	var resp extractResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "words from image" {
		t.Errorf("text = %q, want %q", resp.Text, "words from image")
	}
}

func TestHandleExtractUnsupportedType(t *testing.T) {
	srv, _, _ := newTestServer(t, stubExtractor{})

	body, contentType := multipartUpload(t, "doc.pdf", "application/pdf", "pdfdata")
	req := httptest.NewRequest(http.MethodPost, "/api/extract-text", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleExtractFailure(t *testing.T) {
	srv, _, _ := newTestServer(t, stubExtractor{err: errors.New("ocr crashed")})

	body, contentType := multipartUpload(t, "scan.png", "image/png", "fakeimagedata")
	req := httptest.NewRequest(http.MethodPost, "/api/extract-text", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)
	store.Create("t", false)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got health.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" {
		t.Errorf("status field = %q, want ok", got.Status)
	}
	if got.ActiveSessions != 1 {
		t.Errorf("activeSessions = %d, want 1", got.ActiveSessions)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback", nil, "http://127.0.0.1:3000", "example.com", true},
		{"foreign host", nil, "http://evil.com", "example.com", false},
		{"allowlisted", []string{"https://app.example.com"}, "https://app.example.com", "example.com", true},
		{"not allowlisted", []string{"https://app.example.com"}, "http://localhost:3000", "example.com", false},
		{"garbage origin", nil, "::bad::", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Server.AllowedOrigins = tt.allowed
			store := session.NewStore()
			h := hub.New(4)
			m := metrics.New()
			orch := orchestrator.New(store, h, stubRetriever{}, stubAnalyzer{}, m, orchestrator.Options{})
			srv := NewServer(cfg, store, h, orch, stubExtractor{}, m, health.NewReporter())

			req := httptest.NewRequest(http.MethodGet, "/api/updates", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(origin=%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestUpdatesStreamEndToEnd(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/updates"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var greeting hub.Event
	if err := conn.ReadJSON(&greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting.Type != hub.EventConnection {
		t.Fatalf("first event type = %q, want connection", greeting.Type)
	}
	if greeting.Status != "established" {
		t.Errorf("greeting status = %q, want established", greeting.Status)
	}

	// Kick off an analysis and watch it stream through to the socket.
	resp, err := http.Post(ts.URL+"/api/analyze-text", "application/json",
		strings.NewReader(`{"text": "hello world", "useRAG": false}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var accepted analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}

	var types []hub.EventType
	for {
		var ev hub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (got %v so far)", err, types)
		}
		if ev.ID != accepted.SessionID {
			continue
		}
		types = append(types, ev.Type)
		if ev.Type == hub.EventAnalysisComplete || ev.Type == hub.EventAnalysisFailed {
			break
		}
	}

	if types[0] != hub.EventAnalysisStart {
		t.Errorf("first session event = %q, want analysis_start", types[0])
	}
	if types[len(types)-1] != hub.EventAnalysisComplete {
		t.Errorf("last session event = %q, want analysis_complete", types[len(types)-1])
	}
}
