package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/payrecon/internal/health"
	"github.com/vladislavdragonenkov/payrecon/internal/version"
)

func startTestMetricsServer(t *testing.T, h *healthcheck.Handler) (string, context.CancelFunc) {
	t.Helper()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(findFreePort(t)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NotNil(t, startMetricsServer(ctx, addr, log.WithField("test", t.Name()), h))
	waitForServer(t, "http://"+addr+"/livez")
	return "http://" + addr, cancel
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsServer_ServesProbesAndPrometheus(t *testing.T) {
	base, _ := startTestMetricsServer(t, healthcheck.NewHandler(version.GetVersion()))

	code, body := get(t, base+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "go_goroutines")

	code, body = get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	var report healthcheck.Response
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	require.Equal(t, healthcheck.StatusHealthy, report.Status)
	require.Equal(t, version.GetVersion(), report.Version)

	code, body = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body)
}

func TestMetricsServer_StorageOutageFailsReadinessOnly(t *testing.T) {
	h := healthcheck.NewHandler(version.GetVersion())
	h.RegisterChecker("firestore", healthcheck.NewSimpleChecker("firestore", func(context.Context) error {
		return errors.New("rpc error: code = Unavailable")
	}))
	base, _ := startTestMetricsServer(t, h)

	code, _ := get(t, base+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, base+"/livez")
	require.Equal(t, http.StatusOK, code)
}

func TestMetricsServer_StopsWithContext(t *testing.T) {
	base, cancel := startTestMetricsServer(t, healthcheck.NewHandler("dev"))

	cancel()
	require.Eventually(t, func() bool {
		_, err := http.Get(base + "/livez")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP(t *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "nil-server"))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	shutdownHTTP(srv, log.WithField("test", "shutdown"))
	select {
	case err := <-served:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func findFreePort(t *testing.T) int {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "server at %s did not start", url)
}
