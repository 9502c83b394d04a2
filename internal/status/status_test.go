package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/dgnsrekt/swofeed/internal/fanout"
	"github.com/dgnsrekt/swofeed/internal/pipeline"
	"github.com/dgnsrekt/swofeed/internal/symbols"
	"github.com/dgnsrekt/swofeed/internal/ws"
)

type mockFeed struct {
	stats   fanout.Stats
	clients []fanout.ClientInfo
	err     error
}

func (m *mockFeed) Stats() fanout.Stats { return m.stats }

func (m *mockFeed) Clients() ([]fanout.ClientInfo, error) { return m.clients, m.err }

type mockPipeline struct{ stats pipeline.Stats }

func (m *mockPipeline) Snapshot() pipeline.Stats { return m.stats }

type mockHub struct{ stats ws.Stats }

func (m *mockHub) Stats() ws.Stats { return m.stats }

func (m *mockHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

type mockSymbols map[uint32]string

func (m mockSymbols) Loaded() bool { return m != nil }

func (m mockSymbols) Lookup(addr uint32) symbols.Result {
	if class, ok := symbols.Classify(addr); ok {
		return symbols.Result{Addr: addr, Function: class.String(), Class: class}
	}
	if name, ok := m[addr]; ok {
		return symbols.Result{Addr: addr, Function: name, File: "main.c", Line: 12, Found: true}
	}
	return symbols.Result{Addr: addr, Function: symbols.Unknown}
}

type mockReloader struct {
	err    error
	calls  int
	status symbols.Status
}

func (m *mockReloader) Reload(ctx context.Context) error {
	m.calls++
	return m.err
}

func (m *mockReloader) Status() symbols.Status { return m.status }

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	router, err := NewRouter(h, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, body
}

func TestLoadSpec(t *testing.T) {
	doc, err := LoadSpec()
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}
	for _, path := range []string{"/api/v1/status", "/api/v1/clients", "/api/v1/symbols/{addr}", "/api/v1/symbols/reload"} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("document has no path %s", path)
		}
	}
}

func TestHealthAndSpec(t *testing.T) {
	srv := newTestServer(t, &Handler{})

	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", code, body)
	}

	code, body = get(t, srv.URL+"/openapi.yaml")
	if code != http.StatusOK || !strings.HasPrefix(string(body), "openapi: 3.0.3") {
		t.Errorf("openapi.yaml = %d %.20q", code, body)
	}
}

func TestGetStatus(t *testing.T) {
	h := &Handler{
		Feed:     &mockFeed{stats: fanout.Stats{Addr: "127.0.0.1:3402", Clients: 2, Accepted: 5, Bytes: 1024}},
		Pipeline: &mockPipeline{stats: pipeline.Stats{Format: "text", Events: 42, Lost: 3}},
		Hub:      &mockHub{stats: ws.Stats{Clients: 1}},
	}
	srv := newTestServer(t, h)

	code, body := get(t, srv.URL+"/api/v1/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	var got StatusResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(fanout.Stats{Addr: "127.0.0.1:3402", Clients: 2, Accepted: 5, Bytes: 1024}, *got.Server); diff != "" {
		t.Errorf("server stats mismatch (-want +got):\n%s", diff)
	}
	if got.Pipeline.Events != 42 || got.Pipeline.Lost != 3 {
		t.Errorf("pipeline = %+v", got.Pipeline)
	}
	if got.WebSocket.Clients != 1 {
		t.Errorf("websocket = %+v", got.WebSocket)
	}
	if got.Symbols != nil {
		t.Errorf("symbols = %+v, want absent", got.Symbols)
	}
}

func TestGetClients(t *testing.T) {
	feed := &mockFeed{clients: []fanout.ClientInfo{{ID: "a", Remote: "127.0.0.1:5000", State: "running"}}}
	srv := newTestServer(t, &Handler{Feed: feed})

	code, body := get(t, srv.URL+"/api/v1/clients")
	if code != http.StatusOK {
		t.Fatalf("status = %d: %s", code, body)
	}
	var got []fanout.ClientInfo
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if diff := cmp.Diff(feed.clients, got); diff != "" {
		t.Errorf("clients mismatch (-want +got):\n%s", diff)
	}

	feed.err = fanout.ErrLockTimeout
	if code, _ := get(t, srv.URL+"/api/v1/clients"); code != http.StatusServiceUnavailable {
		t.Errorf("status on lock timeout = %d, want 503", code)
	}
}

func TestLookupSymbol(t *testing.T) {
	srv := newTestServer(t, &Handler{Symbols: mockSymbols{0x08000200: "main"}})

	tests := []struct {
		name string
		addr string
		want SymbolResponse
	}{
		{"found", "0x08000200", SymbolResponse{Addr: "0x08000200", Function: "main", File: "main.c", Line: 12, Found: true, Text: "main (main.c:12)"}},
		{"no prefix", "8000200", SymbolResponse{Addr: "0x08000200", Function: "main", File: "main.c", Line: 12, Found: true, Text: "main (main.c:12)"}},
		{"unknown", "0x1000", SymbolResponse{Addr: "0x00001000", Function: "Unknown", Text: "Unknown"}},
		{"exc return", "FFFFFFF1", SymbolResponse{Addr: "0xFFFFFFF1", Function: "INT_FROM_HANDLER", Interrupt: "INT_FROM_HANDLER", Text: "INT_FROM_HANDLER"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, srv.URL+"/api/v1/symbols/"+tt.addr)
			if code != http.StatusOK {
				t.Fatalf("status = %d: %s", code, body)
			}
			var got SymbolResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLookupSymbolValidation(t *testing.T) {
	srv := newTestServer(t, &Handler{Symbols: mockSymbols{}})
	if code, _ := get(t, srv.URL+"/api/v1/symbols/not-hex"); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if code, _ := get(t, srv.URL+"/api/v1/symbols/123456789"); code != http.StatusBadRequest {
		t.Errorf("status for 9 digits = %d, want 400", code)
	}
}

func TestLookupSymbolNotLoaded(t *testing.T) {
	srv := newTestServer(t, &Handler{})
	code, body := get(t, srv.URL+"/api/v1/symbols/0x100")
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	var got errorResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Error != symbols.ErrNoSymbols.Error() {
		t.Errorf("error = %q", got.Error)
	}
}

func TestReloadSymbols(t *testing.T) {
	reloader := &mockReloader{status: symbols.Status{Path: "fw.elf", Loaded: true, Functions: 7, Reloads: 1}}
	srv := newTestServer(t, &Handler{Reloader: reloader, Logger: zaptest.NewLogger(t)})

	post := func() int {
		resp, err := http.Post(srv.URL+"/api/v1/symbols/reload", "application/json", nil)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(); code != http.StatusOK {
		t.Errorf("reload = %d, want 200", code)
	}
	reloader.err = symbols.ErrReloadInProgress
	if code := post(); code != http.StatusConflict {
		t.Errorf("reload in progress = %d, want 409", code)
	}
	reloader.err = errors.New("not an ELF file")
	if code := post(); code != http.StatusInternalServerError {
		t.Errorf("failed reload = %d, want 500", code)
	}
	if reloader.calls != 3 {
		t.Errorf("calls = %d, want 3", reloader.calls)
	}
}

func TestReloadWithoutSymbolFile(t *testing.T) {
	srv := newTestServer(t, &Handler{})
	resp, err := http.Post(srv.URL+"/api/v1/symbols/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketRouteOnlyWithHub(t *testing.T) {
	srv := newTestServer(t, &Handler{})
	if code, _ := get(t, srv.URL+"/ws"); code != http.StatusNotFound {
		t.Errorf("/ws without hub = %d, want 404", code)
	}

	srv = newTestServer(t, &Handler{Hub: &mockHub{}})
	if code, _ := get(t, srv.URL+"/ws"); code != http.StatusTeapot {
		t.Errorf("/ws with hub = %d, want 418", code)
	}
}
