package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"multichat/catalog"
	"multichat/chat"
	"multichat/chatapi"
	"multichat/config"
	"multichat/dispatch"
	"multichat/web/handlers"
	"multichat/web/services"
	"multichat/web/types"

	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:          5 * time.Second,
		BackendMode:             config.BackendModeEcho,
		MaxWorkspaces:           8,
		RateLimitMessagesPerMin: 600,
		RateLimitFilesPerHour:   60,
		RateLimitBurstSize:      50,
		BackendRateLimitPerMin:  600,
		CORSAllowOrigins:        []string{"http://localhost:5173"},
	}
}

// TestEndToEndEcho runs the client API against the echo backend served by
// the same router, the way main wires them.
func TestEndToEndEcho(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	cat := catalog.New(nil)

	var endpoint string
	workspaces, err := services.NewWorkspaceService(cfg.MaxWorkspaces, func(store *chat.Store) *dispatch.Controller {
		return dispatch.NewController(store, cat, chatapi.New(endpoint, logger), logger, cfg.RequestTimeout)
	}, logger)
	if err != nil {
		t.Fatalf("NewWorkspaceService: %v", err)
	}

	backend := handlers.NewBackendHandler(cfg.BackendMode, nil, logger)
	server, err := NewServer(cfg, cat, workspaces, backend, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.Close()

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	endpoint = ts.URL + "/chat"

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	post := func(path string, body interface{}) (int, types.StateView) {
		t.Helper()
		raw, _ := json.Marshal(body)
		resp, err := client.Post(ts.URL+path, "application/json", bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		defer resp.Body.Close()
		var out struct {
			State types.StateView `json:"state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("POST %s: decode: %v", path, err)
		}
		return resp.StatusCode, out.State
	}

	if code, _ := post("/api/sessions", map[string]string{"model": cat.Default().ID}); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	code, state := post("/api/send?wait=true", map[string]string{"text": "hello"})
	if code != http.StatusOK {
		t.Fatalf("send status = %d, error %q", code, state.Error)
	}

	active, ok := state.Active()
	if !ok || len(active.Messages) != 2 {
		t.Fatalf("unexpected transcript %+v", state)
	}
	if bot := active.Messages[1]; bot.Text != "hello" || bot.ModelLabel != cat.Default().Label {
		t.Errorf("bot message = %+v", bot)
	}
}

func TestStaticAssets(t *testing.T) {
	cfg := testConfig()
	cat := catalog.New(nil)
	workspaces, err := services.NewWorkspaceService(2, func(store *chat.Store) *dispatch.Controller {
		return dispatch.NewController(store, cat, nopBackend{}, zap.NewNop(), 0)
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkspaceService: %v", err)
	}
	server, err := NewServer(cfg, cat, workspaces, handlers.NewBackendHandler(config.BackendModeEcho, nil, zap.NewNop()), zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.Close()

	for _, path := range []string{"/static/app.js", "/static/app.css"} {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: status %d", path, w.Code)
		}
	}
}
