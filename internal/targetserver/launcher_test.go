package targetserver

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func unusedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func requireUnix(t *testing.T, bin string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath(bin); err != nil {
		t.Skipf("%s not available", bin)
	}
}

func TestStart_ReusesRunningTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(Options{URL: srv.URL, ReuseExisting: true, Command: []string{"false"}}, arbor.NewLogger())
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Launched())
	assert.NoError(t, s.Stop())
}

func TestStart_ReadyStatuses(t *testing.T) {
	tests := []struct {
		status int
		ready  bool
	}{
		{http.StatusOK, true},
		{http.StatusFound, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := New(Options{URL: srv.URL}, arbor.NewLogger())
			s.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
			assert.Equal(t, tt.ready, s.ready(context.Background()))
		})
	}
}

func TestStart_RunningTargetWithoutReuse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	s := New(Options{URL: srv.URL, ReuseExisting: false}, arbor.NewLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
}

func TestStart_NoCommandNotRunning(t *testing.T) {
	s := New(Options{URL: unusedURL(t), ReuseExisting: true}, arbor.NewLogger())
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestStart_RequiresURL(t *testing.T) {
	s := New(Options{}, arbor.NewLogger())
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_ProcessExitsEarly(t *testing.T) {
	requireUnix(t, "sh")

	logFile := filepath.Join(t.TempDir(), "logs", "target.log")
	s := New(Options{
		URL:            unusedURL(t),
		Command:        []string{"sh", "-c", "echo booting; exit 3"},
		StartupTimeout: 10 * time.Second,
		LogFile:        logFile,
	}, arbor.NewLogger())

	start := time.Now()
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "exited")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.FileExists(t, logFile)
}

func TestStart_TimesOutAndStops(t *testing.T) {
	requireUnix(t, "sleep")

	s := New(Options{
		URL:            unusedURL(t),
		Command:        []string{"sleep", "30"},
		StartupTimeout: time.Second,
	}, arbor.NewLogger())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	require.True(t, s.Launched())

	select {
	case <-s.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("process was not stopped after startup timeout")
	}
	assert.NoError(t, s.Stop())
}

func TestStart_ContextCancelled(t *testing.T) {
	requireUnix(t, "sleep")

	s := New(Options{
		URL:            unusedURL(t),
		Command:        []string{"sleep", "30"},
		StartupTimeout: time.Minute,
	}, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	err := s.Start(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// processGone reports whether pid no longer runs. Zombies count as gone since
// their reaper may be outside the test's control.
func processGone(pid int) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[bytes.LastIndexByte(stat, ')')+1:]))
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func TestStop_KillsSpawnedChildren(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc")
	}
	requireUnix(t, "sleep")

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	s := New(Options{
		URL: unusedURL(t),
		// Background jobs of a non-interactive shell ignore SIGINT, like a
		// dev server detached by its launcher
		Command: []string{"sh", "-c", "sleep 60 & echo $! > " + pidFile + "; wait"},
	}, arbor.NewLogger())
	require.NoError(t, s.spawn())

	var childPid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		childPid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.False(t, processGone(childPid))

	require.NoError(t, s.Stop())

	assert.Eventually(t, func() bool { return processGone(childPid) },
		5*time.Second, 20*time.Millisecond, "child %d outlived Stop", childPid)
}

func TestStop_ExitedLeaderStillSweepsGroup(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc")
	}
	requireUnix(t, "sleep")

	pidFile := filepath.Join(t.TempDir(), "child.pid")
	s := New(Options{
		URL:     unusedURL(t),
		Command: []string{"sh", "-c", "sleep 60 & echo $! > " + pidFile},
	}, arbor.NewLogger())
	require.NoError(t, s.spawn())

	select {
	case <-s.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("leader did not exit")
	}
	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	childPid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	require.NoError(t, s.Stop())

	assert.Eventually(t, func() bool { return processGone(childPid) },
		5*time.Second, 20*time.Millisecond, "orphaned child %d survived Stop", childPid)
}
