package pinger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinger_StartStop(t *testing.T) {
	p := New("http://example.invalid", time.Minute, nil)

	started, err := p.Start()
	require.NoError(t, err)
	assert.True(t, started)

	started, err = p.Start()
	require.NoError(t, err)
	assert.False(t, started)
	assert.True(t, p.Status().Running)

	assert.True(t, p.Stop())
	assert.False(t, p.Stop())
	assert.False(t, p.Status().Running)
}

func TestPinger_StartWithoutURL(t *testing.T) {
	p := New("", time.Minute, nil)
	_, err := p.Start()
	assert.ErrorIs(t, err, ErrNoURL)
	assert.ErrorIs(t, p.Ping(context.Background()), ErrNoURL)
}

func TestPinger_TickCountsResults(t *testing.T) {
	var hits atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := New(srv.URL, time.Minute, nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Tick(context.Background())
	assert.Zero(t, hits.Load(), "stopped pinger must not ping")

	_, err := p.Start()
	require.NoError(t, err)
	p.Tick(context.Background())
	p.Tick(context.Background())

	status.Store(http.StatusServiceUnavailable)
	p.Tick(context.Background())

	st := p.Status()
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 2, st.PingCount)
	assert.Equal(t, 1, st.ErrorCount)
	assert.Contains(t, st.LastError, "503")
	assert.Equal(t, now, st.LastPing)

	status.Store(http.StatusOK)
	require.NoError(t, p.Ping(context.Background()))
	assert.Empty(t, p.Status().LastError)
}
