package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandler_ReadinessFollowsCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	var running atomic.Bool
	srv := httptest.NewServer(NewHandler(reg, func() error {
		if !running.Load() {
			return errors.New("not running")
		}
		return nil
	}))
	defer srv.Close()

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/live"); got != http.StatusOK {
		t.Fatalf("/live: got %d, want 200", got)
	}
	if got := get("/ready"); got != http.StatusServiceUnavailable {
		t.Fatalf("/ready before running: got %d, want 503", got)
	}
	running.Store(true)
	if got := get("/ready"); got != http.StatusOK {
		t.Fatalf("/ready while running: got %d, want 200", got)
	}
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Resurrections)
	Resurrections.WithLabelValues("test").Inc()

	srv := httptest.NewServer(NewHandler(reg, func() error { return nil }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{
		`keepalive_resurrections_total{source="test"}`,
		`keepalive_healthcheck_status{check="orchestrator"} 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
