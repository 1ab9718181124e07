package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/GoBoundedQueue/internal/metrics"
	"github.com/i5heu/GoBoundedQueue/internal/report"
	"github.com/i5heu/GoBoundedQueue/internal/testbench"
	"github.com/i5heu/GoBoundedQueue/pkg/boundedqueue"
	"github.com/i5heu/GoBoundedQueue/pkg/config"
)

func TestRunDefaultDemo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "Buffer size: 5 | Items: 12")
	assert.Contains(t, out, "Consumed sequence: [1 2 3 4 5 6 7 8 9 10 11 12]")
	assert.Contains(t, out, "Synchronization complete")
	assert.Contains(t, stderr.String(), "consumed")
}

func TestRunManyToManyWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-capacity", "2", "-items", "200", "-producers", "3", "-consumers", "4",
		"-progress", "-json", path,
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	sessions, err := report.Load(path)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Sessions, 1)
	res := sessions[0].Sessions[0]
	assert.Equal(t, 200, res.Produced)
	assert.Len(t, res.Consumed, 200)
	assert.Empty(t, res.Error)
	assert.True(t, complete(res))
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-capacity", "-1"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-capacity", "0"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-producers", "0"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-log-format", "xml"}, &stdout, &stderr))
	assert.Equal(t, 0, run([]string{"-h"}, &stdout, &stderr))
}

func TestRunZeroItems(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-items", "0"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Produced: 0 | Consumed: 0")
	assert.Contains(t, stdout.String(), "Consumed sequence: []")
	assert.Contains(t, stdout.String(), "Synchronization complete")
}

func TestComplete(t *testing.T) {
	cfg := config.Default()
	cfg.Items = 3

	inOrder := verify(cfg, &testbench.Session[int]{Produced: 3, Consumed: []int{1, 2, 3}})
	assert.True(t, inOrder.InOrder)
	assert.True(t, complete(inOrder))

	swapped := verify(cfg, &testbench.Session[int]{Produced: 3, Consumed: []int{2, 1, 3}})
	assert.False(t, swapped.InOrder)
	assert.False(t, complete(swapped), "1:1 must preserve order")

	cfg.Consumers = 2
	assert.True(t, complete(verify(cfg, &testbench.Session[int]{Produced: 3, Consumed: []int{2, 1, 3}})))
	assert.False(t, complete(verify(cfg, &testbench.Session[int]{Produced: 3, Consumed: []int{2, 2, 3}})))
	assert.False(t, complete(verify(cfg, nil)))
}

func TestRouterStatus(t *testing.T) {
	q := boundedqueue.MustNew[int](4)
	q.Put(1)
	q.Put(2)
	reg := prometheus.NewRegistry()
	metrics.RegisterQueue(reg, "test", q)
	r := newRouter(reg, q)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st queueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, queueStatus{Len: 2, Cap: 4}, st)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `bq_queue_depth{queue="test"} 2`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
