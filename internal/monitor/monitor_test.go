package monitor

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/db"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(status int, err error) upstream.CallRecord {
	return upstream.CallRecord{
		RequestID: "abcd1234",
		Method:    "GET",
		URL:       "https://api.duckmail.sbs/messages",
		Provider:  "duckmail",
		Status:    status,
		Attempts:  1,
		Duration:  25 * time.Millisecond,
		Err:       err,
		Timestamp: time.Now(),
	}
}

func TestMemoryOnlyRing(t *testing.T) {
	m := New(nil, nil)
	for i := 0; i < MaxMemoryLogs+5; i++ {
		m.ObserveCall(call(200+i%2, nil))
	}

	recent := m.Recent(0)
	assert.Len(t, recent, MaxMemoryLogs)
	assert.Len(t, m.GetLogs(10, 0), 10)

	stats := m.GetStats()
	assert.Equal(t, int64(MaxMemoryLogs+5), stats.TotalRequests)
	assert.Equal(t, int64(MaxMemoryLogs+5), stats.SuccessCount)
}

func TestErrorsCountedAndStatusTakenFromError(t *testing.T) {
	m := New(nil, nil)
	m.ObserveCall(call(0, &upstream.Error{Kind: upstream.KindNotFound, Status: 404, Message: "gone"}))
	m.ObserveCall(call(0, errors.New("dial tcp: refused")))

	recent := m.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, 0, recent[0].Status)
	assert.Equal(t, 404, recent[1].Status)
	assert.Contains(t, recent[1].Error, "gone")
	assert.Equal(t, int64(2), m.GetStats().ErrorCount)
}

func TestDisabledMonitorDropsCalls(t *testing.T) {
	m := New(nil, nil)
	m.SetEnabled(false)
	m.ObserveCall(call(200, nil))
	assert.Empty(t, m.Recent(0))
}

func TestPersistedLogs(t *testing.T) {
	gdb, err := db.InitDB(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)

	m := New(gdb, nil)
	for i := 0; i < 3; i++ {
		rec := call(200, nil)
		rec.URL = fmt.Sprintf("https://api.duckmail.sbs/messages?page=%d", i+1)
		rec.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		m.ObserveCall(rec)
	}
	m.Flush()

	logs := m.GetLogs(2, 0)
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0].URL, "page=3")
	assert.NotEmpty(t, logs[0].ID)

	reloaded := New(gdb, nil)
	assert.Equal(t, int64(3), reloaded.GetStats().TotalRequests)

	require.NoError(t, m.Clear())
	assert.Empty(t, m.GetLogs(10, 0))
	assert.Empty(t, m.Recent(0))
}
