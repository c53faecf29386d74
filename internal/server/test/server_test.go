package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/server"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stdgrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type pingerStub struct{ err error }

func (p pingerStub) Ping(context.Context) error { return p.err }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHTTPServerProbes(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)
	cfg := configloader.ServerConfig{HTTP: configloader.ListenerConfig{Addr: "127.0.0.1:0"}}

	healthy := server.NewHTTPServer(cfg, pingerStub{}, logger)
	assert.Equal(t, http.StatusOK, serve(t, healthy, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(t, healthy, "/readyz").Code)

	metrics := serve(t, healthy, "/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "go_goroutines")

	broken := server.NewHTTPServer(cfg, pingerStub{err: errors.New("connection refused")}, logger)
	assert.Equal(t, http.StatusOK, serve(t, broken, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, broken, "/readyz").Code)
}

func TestGRPCServerProvidesHealth(t *testing.T) {
	cfg := configloader.ServerConfig{GRPC: configloader.ListenerConfig{Addr: "127.0.0.1:0"}}
	metricsCfg := &observability.MetricsConfig{GRPCEnabled: true}
	srv := server.NewGRPCServer(cfg, metricsCfg, log.NewStdLogger(io.Discard))

	endpointURL, err := srv.Endpoint()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("server start returned: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop(context.Background())
	})

	conn, err := stdgrpc.NewClient(endpointURL.Host, stdgrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		res, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && res.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 3*time.Second, 20*time.Millisecond)
}
