package jaild

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/jail/internal/authtoken"
	"github.com/ehrlich-b/jail/internal/jail"
)

// TestMain lets this test binary double as the re-exec bootstrap target:
// handleRun reaches jail.Run, which spawns os.Executable() (this binary)
// with the hidden bootstrap subcommand.
func TestMain(m *testing.M) {
	if jail.IsBootstrap(os.Args[1:]) {
		jail.Bootstrap(os.Args[2:])
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testRegistry() *jail.Registry {
	r := jail.NewRegistry()
	r.Register("sh", "/bin/sh", "", nil, jail.Profile{CPU: 2, Memory: 64_000_000, FileSize: 1_000_000, NProc: 5, CanFork: true})
	return r
}

func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("GET /v1/run/stream", s.handleRunStream)
	return mux
}

func TestHandleRunRejectsMissingToken(t *testing.T) {
	s := &Server{Registry: testRegistry(), Secret: []byte("shh")}
	srv := httptest.NewServer(newTestMux(s))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/run", "application/json", strings.NewReader(`{"command":"sh"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHandleRunRejectsDisallowedCommand(t *testing.T) {
	secret := []byte("shh")
	s := &Server{Registry: testRegistry(), Secret: secret}
	srv := httptest.NewServer(newTestMux(s))
	defer srv.Close()

	tok, err := authtoken.Issue(secret, "tester", []string{"python"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/run", strings.NewReader(`{"command":"sh"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestHandleRunEnforcesRateLimit(t *testing.T) {
	secret := []byte("shh")
	s := &Server{Registry: testRegistry(), Secret: secret, RatePerSecond: 1, Burst: 1}
	srv := httptest.NewServer(newTestMux(s))
	defer srv.Close()

	tok, err := authtoken.Issue(secret, "tester", nil, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	doRun := func() int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/run", bytes.NewReader([]byte(`{"command":"sh","argv":["-c","true"]}`)))
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	first := doRun()
	second := doRun()
	if second != http.StatusTooManyRequests && first != http.StatusTooManyRequests {
		t.Errorf("expected one of two rapid requests to be throttled, got %d then %d", first, second)
	}
}

func TestHandleRunStreamRejectsDisallowedCommand(t *testing.T) {
	secret := []byte("shh")
	s := &Server{Registry: testRegistry(), Secret: secret}
	srv := httptest.NewServer(newTestMux(s))
	defer srv.Close()

	tok, err := authtoken.Issue(secret, "tester", []string{"python"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/run/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	body, _ := json.Marshal(runRequest{Command: "sh"})
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the connection for a disallowed command")
	}
}
