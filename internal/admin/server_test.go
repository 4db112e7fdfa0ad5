package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/linebridge/internal/bridge"
	"github.com/flemzord/linebridge/internal/core"
)

type fakeStatus struct {
	st bridge.Status
}

func (f fakeStatus) Status() bridge.Status { return f.st }

type fakeHealth struct {
	err error
}

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestServer(t *testing.T, mutate func(*Server)) *httptest.Server {
	t.Helper()

	s := &Server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	s.config.defaults()
	if err := s.config.parse(); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if mutate != nil {
		mutate(s)
	}

	srv := httptest.NewServer(s.buildRouter())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp.StatusCode
}

func TestHealth_RunningBridge(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(s *Server) {
		s.status = fakeStatus{st: bridge.Status{State: "running"}}
	})

	var resp HealthResponse
	if code := getJSON(t, srv.URL+"/health", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if resp.Status != "ok" || resp.Bridge != "running" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealth_StoppedBridgeIsDegraded(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(s *Server) {
		s.status = fakeStatus{st: bridge.Status{State: "stopped"}}
	})

	var resp HealthResponse
	if code := getJSON(t, srv.URL+"/health", &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", code)
	}
	if resp.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", resp.Status)
	}
}

func TestHealth_ResponderFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(s *Server) {
		s.status = fakeStatus{st: bridge.Status{State: "running"}}
		s.health = fakeHealth{err: errors.New("connection refused")}
	})

	var resp HealthResponse
	if code := getJSON(t, srv.URL+"/health", &resp); code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", code)
	}
	if !strings.Contains(resp.Responder, "connection refused") {
		t.Fatalf("responder detail = %q", resp.Responder)
	}
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	code7 := 7
	srv := newTestServer(t, func(s *Server) {
		s.status = fakeStatus{st: bridge.Status{
			Mode:  "loopback",
			State: "stopped",
			Children: []bridge.ChildStatus{
				{Name: "c1", ExitCode: &code7},
			},
		}}
	})

	var st bridge.Status
	if code := getJSON(t, srv.URL+"/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if st.Mode != "loopback" || len(st.Children) != 1 || *st.Children[0].ExitCode != 7 {
		t.Fatalf("unexpected snapshot: %+v", st)
	}
}

func TestStatus_WithoutBridge(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", resp.StatusCode)
	}
}

func TestEvents_StreamsOverWebSocket(t *testing.T) {
	t.Parallel()

	hub := bridge.NewHub()
	srv := newTestServer(t, func(s *Server) {
		s.events = hub
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing event feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The subscription is registered during the upgrade handshake, so it is
	// live once Dial returns.
	hub.Publish(bridge.Event{Type: bridge.EventMessage, Stream: "c1/out", Bytes: 5})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading event frame: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("frame type = %v, want text", typ)
	}
	var ev bridge.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	if ev.Type != bridge.EventMessage || ev.Stream != "c1/out" || ev.Bytes != 5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEvents_NotMountedWithoutHub(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/ws/events")
	if err != nil {
		t.Fatalf("GET /ws/events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("listen: 127.0.0.1:0\n"), &node); err != nil {
		t.Fatalf("parsing yaml: %v", err)
	}

	s := &Server{}
	if err := s.Configure(&node); err != nil {
		t.Fatalf("configure: %v", err)
	}

	appCtx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)))
	appCtx.RegisterService("bridge.control", fakeStatus{st: bridge.Status{State: "running"}})
	if err := s.Provision(appCtx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	url := fmt.Sprintf("http://%s/health", s.ln.Addr().String())
	var resp HealthResponse
	if code := getJSON(t, url, &resp); code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
}

func TestConfig_Validation(t *testing.T) {
	t.Parallel()

	cfg := &Config{Listen: "nonsense:port:extra"}
	cfg.defaults()
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid listen address to fail validation")
	}

	cfg = &Config{ReadTimeout: "fast"}
	cfg.defaults()
	if err := cfg.validate(); err == nil {
		t.Fatal("expected invalid read_timeout to fail validation")
	}
}
