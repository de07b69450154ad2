package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomfeed/internal/auth"
	"github.com/vovakirdan/roomfeed/internal/chat"
	"github.com/vovakirdan/roomfeed/internal/config"
	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/livequery"
	"github.com/vovakirdan/roomfeed/internal/media"
	"github.com/vovakirdan/roomfeed/internal/push"
	"github.com/vovakirdan/roomfeed/internal/store/sqlite"
)

type testEnv struct {
	ts   *httptest.Server
	hub  *livequery.Hub
	auth *auth.Service
}

type stubGIFs struct{}

func (stubGIFs) Featured(context.Context) ([]gif.Result, error) {
	return []gif.Result{{ID: "f1", URL: "https://g/f1.gif", PreviewURL: "https://g/f1n.gif"}}, nil
}

func (stubGIFs) Search(ctx context.Context, q string) ([]gif.Result, error) {
	if q == "" {
		return stubGIFs{}.Featured(ctx)
	}
	return []gif.Result{{ID: "s1", URL: "https://g/" + q + ".gif", PreviewURL: "https://g/" + q + "n.gif"}}, nil
}

// newTestEnv starts a server backed by an in-memory store.
func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	cfg := config.Config{
		Addr:               ":0",
		ReadHeaderTimeout:  time.Second,
		ShutdownTimeout:    time.Second,
		MediaDir:           t.TempDir(),
		MaxUploadBytes:     1 << 20,
		MaxMessageBytes:    256,
		RateLimitPerMinute: rateLimit,
	}

	storage, err := media.NewStorage(cfg.MediaDir, "/media")
	if err != nil {
		t.Fatalf("media storage: %v", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	hub := livequery.NewHub(st, &logger)
	t.Cleanup(hub.Close)
	dispatcher := push.NewDispatcher(st, nil, &logger)
	chatService := chat.NewService(st, hub, storage, dispatcher, chat.Options{
		MaxMessageBytes: int(cfg.MaxMessageBytes),
		MaxUploadBytes:  cfg.MaxUploadBytes,
	}, &logger)

	router, stop := NewRouter(Deps{
		Auth:   authService,
		Chat:   chatService,
		Push:   dispatcher,
		GIFs:   stubGIFs{},
		Stream: hub,
	}, &cfg, &logger)
	t.Cleanup(stop)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, hub: hub, auth: authService}
}

// signUp registers a user and returns its token and UID.
func (e *testEnv) signUp(t *testing.T, email, name string) (string, string) {
	t.Helper()
	var resp AuthResponse
	status := e.do(t, http.MethodPost, "/api/signup", "", map[string]string{
		"email": email, "password": "secret123", "display_name": name,
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, status)
	}
	return resp.Token, resp.User.UID
}

// do sends a JSON request and decodes the response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
