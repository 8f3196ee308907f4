package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/go-regionsync/log/logtest"
)

func TestServer(t *testing.T) {
	counter := NewCounter("served", "metrics_test", "test counter", []string{"kind"})
	counter.WithLabelValues("smoke").Inc()

	srv, err := StartServer(logtest.New(t), 0)
	require.NoError(t, err)
	port := srv.Addr().(*net.TCPAddr).Port

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `regionsync_metrics_test_served{kind="smoke"} 1`)

	require.NoError(t, srv.Stop(context.Background()))
	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.Error(t, err)
}

func TestStartServerPortInUse(t *testing.T) {
	srv, err := StartServer(logtest.New(t), 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, srv.Stop(context.Background())) })

	_, err = StartServer(logtest.New(t), srv.Addr().(*net.TCPAddr).Port)
	require.Error(t, err)
}

func TestStartPushingMetrics(t *testing.T) {
	pushed := make(chan string, 16)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case pushed <- r.URL.Path:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gateway.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	StartPushingMetrics(ctx, logtest.New(t), gateway.URL, "replica", 10*time.Millisecond)

	select {
	case path := <-pushed:
		require.True(t, strings.HasPrefix(path, "/metrics/job/"+Namespace), path)
		require.Contains(t, path, "/instance/replica")
	case <-time.After(5 * time.Second):
		require.FailNow(t, "metrics were not pushed")
	}
}
