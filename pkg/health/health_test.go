package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string
	Checks map[string]string
}

func decodeProbe(t *testing.T, w *httptest.ResponseRecorder) probeBody {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := probeBody{Checks: map[string]string{}}
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			body.Status = s
			return err
		case "checks":
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				body.Checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return body
}

func probe(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func fails(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passes(context.Context) error { return nil }

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("no checks", func(t *testing.T) {
		w := probe(New().LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decodeProbe(t, w).Status)
	})

	t.Run("below failure threshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, fails("temporary"))
		h.liveness[0].run(ctx)
		h.liveness[0].run(ctx)

		assert.Equal(t, http.StatusOK, probe(h.LiveEndpoint).Code)
	})

	t.Run("failing", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("db", time.Second, fails("connection refused"))
		for range 3 {
			h.liveness[0].run(ctx)
		}

		w := probe(h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeProbe(t, w)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["db"])
	})

	t.Run("custom threshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("db", time.Second, fails("down"), WithFailureThreshold(1))
		h.liveness[0].run(ctx)

		assert.Equal(t, http.StatusServiceUnavailable, probe(h.LiveEndpoint).Code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passes)

	w := probe(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decodeProbe(t, w).Checks, "_readiness")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, probe(h.ReadyEndpoint).Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, probe(h.ReadyEndpoint).Code)
}

func TestReadyEndpoint_OneFailing(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passes)
	h.AddReadinessCheck("cache", time.Second, fails("cache miss"))
	h.SetReady(true)
	for range 3 {
		h.readiness[1].run(context.Background())
	}

	w := probe(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeProbe(t, w)
	assert.Contains(t, body.Checks, "cache")
	assert.NotContains(t, body.Checks, "postgres")
	assert.False(t, h.IsReady())
}

func TestCheckRecovery(t *testing.T) {
	failing := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, WithSuccessThreshold(2))
	c := h.liveness[0]
	ctx := context.Background()

	for range 3 {
		c.run(ctx)
	}
	assert.False(t, c.healthy.Load())

	failing = false
	c.run(ctx)
	assert.False(t, c.healthy.Load(), "one success is below the threshold")
	c.run(ctx)
	assert.True(t, c.healthy.Load())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("db", time.Second, fails("err"), WithFailureThreshold(1))
	h.AddReadinessCheck("postgres", time.Second, passes)
	h.SetReady(true)

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return probe(h.LiveEndpoint).Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				probe(h.LiveEndpoint)
				probe(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	h.Stop()
	h.Stop()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pingerFunc(passes))(ctx))
	err := PingCheck(pingerFunc(fails("refused")))(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
