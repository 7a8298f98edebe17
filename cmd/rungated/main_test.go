package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/guido-cesarano/rungate/pkg/config"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/netstate"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = config.Config{
	Listen: ":0",
	Jobs: []config.Job{
		{ID: "backup", Schedule: "@daily", Period: "daily", Retry: 0, Command: []string{"true"}},
		{ID: "upload", Schedule: "@hourly", Connectivity: "wifi", Command: []string{"false"}},
	},
}

// setupDaemon builds a daemon over miniredis whose commands are counted instead of executed.
// Commands of jobs listed in failing report failure.
func setupDaemon(t *testing.T, network gate.ConnectivityState, failing ...string) (*daemon, *atomic.Int32) {
	t.Helper()

	s := miniredis.RunT(t)
	st := store.NewRedisStore(store.Config{Addr: s.Addr()})
	t.Cleanup(func() { st.Close() })

	d, err := newDaemon(context.Background(), testConfig, st, network)
	require.NoError(t, err)

	var calls atomic.Int32
	d.run = func(_ context.Context, j config.Job) error {
		calls.Add(1)
		for _, id := range failing {
			if id == j.ID {
				return errors.New("exit status 1")
			}
		}
		return nil
	}
	return d, &calls
}

func serve(mux *http.ServeMux, method, target, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	d, _ := setupDaemon(t, nil)

	t.Run("rejects a missing key", func(t *testing.T) {
		w := serve(setupRouter(d, "secret-key"), http.MethodPost, "/run", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a wrong key", func(t *testing.T) {
		w := serve(setupRouter(d, "secret-key"), http.MethodPost, "/run", "wrong-key")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("accepts the configured key", func(t *testing.T) {
		// 400 because the job id is missing, but auth passed
		w := serve(setupRouter(d, "secret-key"), http.MethodPost, "/run", "secret-key")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("is disabled without a key", func(t *testing.T) {
		w := serve(setupRouter(d, ""), http.MethodPost, "/run", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("preflight skips auth", func(t *testing.T) {
		w := serve(setupRouter(d, "secret-key"), http.MethodOptions, "/jobs", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("rejects the wrong method before auth", func(t *testing.T) {
		w := serve(setupRouter(d, "secret-key"), http.MethodGet, "/reset", "")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Equal(t, "POST, OPTIONS", w.Header().Get("Allow"))
	})
}

func TestTick_RunsOncePerPeriod(t *testing.T) {
	d, calls := setupDaemon(t, nil)
	j := d.jobs["backup"]

	started, err := d.tick(j, false)
	require.NoError(t, err)
	require.True(t, started, "first tick should start the job")
	d.wg.Wait()

	started, err = d.tick(j, false)
	require.NoError(t, err)
	assert.False(t, started, "second tick should be gated by the daily period")
	assert.EqualValues(t, 1, calls.Load())
}

func TestTick_ConnectivityGate(t *testing.T) {
	d, calls := setupDaemon(t, netstate.Static(gate.NetworkCellular))

	started, err := d.tick(d.jobs["upload"], false)
	require.NoError(t, err)
	assert.False(t, started, "wifi-only job should be skipped on cellular")
	assert.Zero(t, calls.Load())
}

func TestTick_RecordsFailure(t *testing.T) {
	d, _ := setupDaemon(t, nil, "upload")
	j := d.jobs["upload"]

	_, err := d.tick(j, false)
	require.NoError(t, err)
	d.wg.Wait()

	failed, err := j.engine.DidLastExecutionFail(context.Background())
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestTick_SkipsWhileRunInFlight(t *testing.T) {
	d, _ := setupDaemon(t, nil)
	j := d.jobs["backup"]

	release := make(chan struct{})
	var running, peak atomic.Int32
	d.run = func(context.Context, config.Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	started, err := d.tick(j, false)
	require.NoError(t, err)
	require.True(t, started)

	for i := 0; i < 3; i++ {
		started, err = d.tick(j, false)
		require.NoError(t, err)
		assert.False(t, started, "tick %d should wait for the running command", i)
	}

	// A forced run is an explicit request and may overlap.
	started, err = d.tick(j, true)
	require.NoError(t, err)
	assert.True(t, started)

	close(release)
	d.wg.Wait()
	assert.EqualValues(t, 0, j.inflight.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))

	// Once the outcome is recorded the period decides again.
	started, err = d.tick(j, false)
	require.NoError(t, err)
	assert.False(t, started)
	assert.EqualValues(t, 0, j.inflight.Load())
}

func TestJobsAndForcedRun(t *testing.T) {
	d, calls := setupDaemon(t, nil)
	mux := setupRouter(d, "")

	// first run through the gate, second forced past the daily period
	_, err := d.tick(d.jobs["backup"], false)
	require.NoError(t, err)
	d.wg.Wait()

	w := serve(mux, http.MethodPost, "/run?id=backup", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	d.wg.Wait()
	assert.EqualValues(t, 2, calls.Load())

	w = serve(mux, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var statuses []gate.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)

	backup := statuses[0]
	assert.Equal(t, "backup", backup.Identity)
	assert.False(t, backup.ShouldRun)
	assert.NotNil(t, backup.LastSuccess)
	assert.Positive(t, backup.WaitSeconds)
	assert.True(t, statuses[1].ShouldRun)
}

func TestRun_UnknownJob(t *testing.T) {
	d, _ := setupDaemon(t, nil)

	w := serve(setupRouter(d, ""), http.MethodPost, "/run?id=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReset(t *testing.T) {
	d, _ := setupDaemon(t, nil)
	j := d.jobs["backup"]

	_, err := d.tick(j, false)
	require.NoError(t, err)
	d.wg.Wait()

	w := serve(setupRouter(d, ""), http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, w.Code)

	ok, err := j.engine.ShouldRun(context.Background())
	require.NoError(t, err)
	assert.True(t, ok, "reset should reopen the gate")
}

func TestMetricsEndpoint(t *testing.T) {
	d, _ := setupDaemon(t, nil)

	_, err := d.tick(d.jobs["backup"], false)
	require.NoError(t, err)
	d.wg.Wait()

	w := serve(setupRouter(d, "secret-key"), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code, "metrics should not need auth")
	assert.Contains(t, w.Body.String(), "rungate_decisions_total")
}
