package microservice_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	microservice.HealthzHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBaseServer_Endpoints(t *testing.T) {
	reg := metrics.NewRegistry("test")
	reg.Counter("mails_sent", "Mails sent").Inc()
	srv := microservice.NewBaseServer(zerolog.Nop(), ":0", reg.Handler())

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		srv.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code, rec.Body.String()
	}

	code, _ := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	srv.SetReady(true)
	code, body := get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `mails_sent{app="test"} 1`)
}

func TestBaseServer_StartAndShutdown(t *testing.T) {
	srv := microservice.NewBaseServer(zerolog.Nop(), ":0", nil)
	require.NoError(t, srv.Start())

	port := srv.GetHTTPPort()
	require.NotEqual(t, ":0", port)

	resp, err := http.Get(fmt.Sprintf("http://localhost%s/healthz", port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
