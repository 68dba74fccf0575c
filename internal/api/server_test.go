package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-narrator/pkg/config"
	"github.com/wonny/aegis-narrator/pkg/logger"
)

func TestWriteTimeout(t *testing.T) {
	assert.Equal(t, 3*time.Minute+15*time.Second, WriteTimeout(3*time.Minute))
	assert.Equal(t, 60*time.Second, WriteTimeout(0))
}

// serve starts s on a loopback port and returns its base URL
func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after shutdown")
		}
	})
	return "http://" + ln.Addr().String()
}

func TestServer_ShutdownDrainsFinishedRequests(t *testing.T) {
	cfg := &config.Config{Port: "0", Report: config.ReportConfig{RequestBudget: time.Minute}}
	s := New(cfg, logger.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := serve(t, s)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestServer_ShutdownCancelsInFlightRuns(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	cfg := &config.Config{Port: "0", Report: config.ReportConfig{RequestBudget: time.Minute}}
	s := New(cfg, logger.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// a report run waiting on its model call
		<-r.Context().Done()
		close(cancelled)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	url := serve(t, s)

	go func() {
		resp, err := http.Get(url + "/api/v1/reports")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight run was not cancelled after the drain deadline")
	}
}
