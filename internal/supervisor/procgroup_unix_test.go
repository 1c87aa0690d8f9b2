//go:build !windows

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exited treats zombies as gone; a reparented child may wait on a slow reaper.
func exited(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return true
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func startWithChild(t *testing.T, script string) (*Supervisor, int) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.sh"), []byte(script), 0o644))

	s := newTestSupervisor(t, Config{
		Command:     "sh backend.sh",
		WorkDir:     dir,
		GracePeriod: 200 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))

	pidFile := filepath.Join(dir, "child.pid")
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = syscall.Kill(pid, syscall.SIGKILL) })
	return s, pid
}

func TestStop_KillsGrandchildren(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{
			name:   "launcher ignores SIGTERM",
			script: "trap '' TERM\nsleep 300 &\necho $! > child.pid\nwait\n",
		},
		{
			name:   "launcher exits but child ignores SIGTERM",
			script: "sh -c \"trap '' TERM; exec sleep 300\" &\necho $! > child.pid\nwait\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, child := startWithChild(t, tt.script)
			// Let the shells install their traps.
			time.Sleep(100 * time.Millisecond)
			require.False(t, exited(child))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, s.Stop(ctx))

			assert.False(t, s.Running())
			assert.Eventually(t, func() bool { return exited(child) }, 2*time.Second, 20*time.Millisecond,
				"server started by the backend must stop with it")
		})
	}
}

func TestStop_GracefulGroupExitIsNotKilled(t *testing.T) {
	s, child := startWithChild(t, "sleep 300 &\necho $! > child.pid\nwait\n")

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Eventually(t, func() bool { return exited(child) }, 2*time.Second, 20*time.Millisecond)
}
