package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlocker/pkg/distributed/xdlock"
)

// execCLI 执行一次命令行，返回退出码和输出
func execCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"xlockctl"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xlocker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"usage", usagef("bad"), exitUsage},
		{"cli_usage", errors.New(`Required flag "key" not set`), exitUsage},
		{"not_acquired", fmt.Errorf("%w: safe lock", xdlock.ErrAcquisitionFailed), exitNotAcquired},
		{"timed_out", fmt.Errorf("%w: after 1s", xdlock.ErrAcquisitionTimedOut), exitNotAcquired},
		{"exit_error", &exitError{code: 7}, 7},
		{"other", errors.New("store down"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestStatus(t *testing.T) {
	code, out, _ := execCLI(t, "status", "--key", "report")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "free\n", out)
}

func TestRun(t *testing.T) {
	t.Run("FencingTokenExported", func(t *testing.T) {
		code, out, stderr := execCLI(t, "run", "--key", "ledger", "--type", "fencing", "--",
			"sh", "-c", "echo token=$XLOCK_FENCING_TOKEN key=$XLOCK_KEY")
		require.Equal(t, exitOK, code, stderr)
		assert.Contains(t, out, "token=1 key=ledger")
	})

	t.Run("CompositeKey", func(t *testing.T) {
		code, out, stderr := execCLI(t, "run", "-k", "invoice", "-k", "42", "--owner", "ci", "--",
			"sh", "-c", "echo $XLOCK_KEY $XLOCK_OWNER")
		require.Equal(t, exitOK, code, stderr)
		assert.Equal(t, "invoice:42 ci\n", out)
	})

	t.Run("WatchdogRenewedDuringChild", func(t *testing.T) {
		code, _, stderr := execCLI(t, "run", "--key", "job", "--type", "watchdog", "--", "sh", "-c", "sleep 0.1")
		require.Equal(t, exitOK, code, stderr)
	})

	t.Run("ChildFailure", func(t *testing.T) {
		code, _, stderr := execCLI(t, "run", "--key", "job", "--", "sh", "-c", "exit 4")
		assert.Equal(t, exitFailure, code)
		assert.Contains(t, stderr, "exit status 4")
	})

	t.Run("MissingCommand", func(t *testing.T) {
		code, _, _ := execCLI(t, "run", "--key", "job")
		assert.Equal(t, exitUsage, code)
	})

	t.Run("UnknownType", func(t *testing.T) {
		code, _, stderr := execCLI(t, "run", "--key", "job", "--type", "spinlock", "--", "true")
		assert.Equal(t, exitUsage, code)
		assert.Contains(t, stderr, "spinlock")
	})
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing_key", []string{"status"}},
		{"unknown_flag", []string{"status", "--key", "k", "--bogus"}},
		{"bad_log_level", []string{"--log-level", "chatty", "status", "--key", "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := execCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestHold(t *testing.T) {
	code, out, stderr := execCLI(t, "hold", "--key", "leader", "--owner", "node-1", "--for", "50ms")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "holding leader as node-1\n", out)
}

func TestForceRelease(t *testing.T) {
	code, out, _ := execCLI(t, "force-release", "--key", "report")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "released: false\n", out)
}

func TestConfig(t *testing.T) {
	t.Run("DefaultsFromFile", func(t *testing.T) {
		path := writeConfig(t, "defaults:\n  type: fencing\nlog:\n  level: debug\n  format: json\n")
		code, out, stderr := execCLI(t, "-c", path, "run", "--key", "k", "--", "sh", "-c", "echo $XLOCK_FENCING_TOKEN")
		require.Equal(t, exitOK, code, stderr)
		assert.Equal(t, "1\n", out)
		// debug 级别的 JSON 日志
		assert.Contains(t, stderr, `"level":"DEBUG"`)
	})

	t.Run("LogLevelFlagOverridesFile", func(t *testing.T) {
		path := writeConfig(t, "log:\n  level: error\n  format: json\n")
		code, _, stderr := execCLI(t, "-c", path, "-l", "debug", "run", "--key", "k", "--", "true")
		require.Equal(t, exitOK, code, stderr)
		assert.Contains(t, stderr, `"level":"DEBUG"`)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := writeConfig(t, "store:\n  driver: zookeeper\n")
		code, _, stderr := execCLI(t, "-c", path, "status", "--key", "k")
		assert.Equal(t, exitFailure, code)
		assert.Contains(t, stderr, "store.driver")
	})

	t.Run("Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		path := writeConfig(t, fmt.Sprintf("store:\n  driver: redis\n  redis:\n    addrs: [%q]\n", mr.Addr()))

		code, out, stderr := execCLI(t, "-c", path, "run", "--key", "k", "--type", "safe", "--",
			"sh", "-c", "echo running")
		require.Equal(t, exitOK, code, stderr)
		assert.Equal(t, "running\n", out)
		assert.False(t, mr.Exists("lock:safe:k"))

		require.NoError(t, mr.Set("lock:safe:k", "someone-else"))
		code, _, _ = execCLI(t, "-c", path, "run", "--key", "k", "--type", "safe", "--", "true")
		assert.Equal(t, exitNotAcquired, code)

		code, out, _ = execCLI(t, "-c", path, "status", "--key", "k", "--type", "safe")
		require.Equal(t, exitOK, code)
		assert.Equal(t, "locked\n", out)

		code, out, _ = execCLI(t, "-c", path, "force-release", "--key", "k")
		require.Equal(t, exitOK, code)
		assert.Equal(t, "released: true\n", out)
	})

	t.Run("RedlockWithBreaker", func(t *testing.T) {
		var conns []string
		nodes := make([]*miniredis.Miniredis, 3)
		for i := range nodes {
			nodes[i] = miniredis.RunT(t)
			conns = append(conns, fmt.Sprintf("    - addrs: [%q]", nodes[i].Addr()))
		}
		path := writeConfig(t, "redlock:\n  breaker_failures: 3\n  connections:\n"+strings.Join(conns, "\n")+"\n")

		code, out, stderr := execCLI(t, "-c", path, "run", "--key", "k", "--type", "redlock", "--",
			"sh", "-c", "echo quorum")
		require.Equal(t, exitOK, code, stderr)
		assert.Equal(t, "quorum\n", out)
		for _, n := range nodes {
			assert.False(t, n.Exists("lock:redlock:k"))
		}
	})
}
