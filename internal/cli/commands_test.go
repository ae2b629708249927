package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/testutil"
)

// newRemote starts an in-memory remote store and returns its ws:// URL.
func newRemote(t *testing.T) (*remote.Memory, string) {
	t.Helper()
	mem := remote.NewMemory().WithIDs(testutil.NewSequenceGenerator("task").Generate)
	srv := httptest.NewServer(remote.NewHandler(mem, nil))
	t.Cleanup(srv.Close)
	return mem, "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc"
}

// unreachableURL returns a ws:// URL on a port nothing listens on.
func unreachableURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "ws://" + addr + "/rpc"
}

func writeConfig(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`localStore:
  driver: file
  path: %s
remote:
  url: %q
  timeout: 2s
sync:
  retryDelay: 1ms
connectivity:
  probeInterval: 20ms
  probeTimeout: 500ms
`, filepath.Join(dir, "store"), remoteURL)
	path := filepath.Join(dir, "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// executeJSON runs a command with --format json and decodes its data.
func executeJSON(t *testing.T, into any, args ...string) error {
	t.Helper()
	out, err := execute(t, append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	if into != nil {
		require.NoError(t, json.Unmarshal(resp.Data, into))
	}
	return err
}

func TestEnqueueStatusSync(t *testing.T) {
	mem, url := newRemote(t)
	cfg := writeConfig(t, url)

	var created queue.Item
	require.NoError(t, executeJSON(t, &created, "-c", cfg, "enqueue", "tasks", "create", "--data", `{"title":"Inspect pump"}`))
	assert.True(t, queue.IsTempID(created.EntityID))

	var updated queue.Item
	require.NoError(t, executeJSON(t, &updated, "-c", cfg, "enqueue", "tasks", "update", created.EntityID, "--data", `{"status":"completed"}`))
	assert.Equal(t, created.EntityID, updated.EntityID)

	var st StatusResult
	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	require.Len(t, st.Pending, 2)
	assert.Equal(t, queue.OpCreate, st.Pending[0].Operation)
	assert.Equal(t, queue.OpUpdate, st.Pending[1].Operation)
	assert.Nil(t, st.LastSyncAt)

	var res SyncResult
	require.NoError(t, executeJSON(t, &res, "-c", cfg, "sync", "--assume-online"))
	assert.True(t, res.Ran)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Pending)

	doc, err := mem.Get(context.Background(), "tasks", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Inspect pump", doc["title"])
	assert.Equal(t, "completed", doc["status"])

	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	assert.Empty(t, st.Pending)
	assert.True(t, st.Online)
	assert.NotNil(t, st.LastSyncAt)
}

func TestSync_ProbesReachability(t *testing.T) {
	_, url := newRemote(t)
	cfg := writeConfig(t, url)
	_, err := execute(t, "-c", cfg, "enqueue", "crew", "create", "--data", `{"name":"Ada"}`)
	require.NoError(t, err)

	var res SyncResult
	require.NoError(t, executeJSON(t, &res, "-c", cfg, "sync"))
	assert.True(t, res.Ran)
	assert.Equal(t, 1, res.Succeeded)
}

func TestSync_OfflineSkips(t *testing.T) {
	cfg := writeConfig(t, unreachableURL(t))
	_, err := execute(t, "-c", cfg, "enqueue", "tasks", "create")
	require.NoError(t, err)

	var res SyncResult
	require.NoError(t, executeJSON(t, &res, "-c", cfg, "sync"))
	assert.False(t, res.Ran)
	assert.Equal(t, "offline", res.Reason)
	assert.Equal(t, 1, res.Pending)

	var st StatusResult
	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	assert.False(t, st.Online)
}

func TestSync_NothingPending(t *testing.T) {
	_, url := newRemote(t)
	cfg := writeConfig(t, url)

	out, err := execute(t, "-c", cfg, "sync", "--assume-online")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync skipped: nothing pending")
}

func TestSync_QuarantineThenRetryAndDiscard(t *testing.T) {
	mem, url := newRemote(t)
	mem.FailWith(func(remote.Call) error {
		return remote.NewTransient("create", errors.New("backend down"))
	})
	cfg := writeConfig(t, url)

	_, err := execute(t, "-c", cfg, "enqueue", "formSubmissions", "create", "--data", `{"form":"f1"}`)
	require.NoError(t, err)

	for attempt := 1; attempt < queue.MaxRetries; attempt++ {
		var res SyncResult
		require.NoError(t, executeJSON(t, &res, "-c", cfg, "sync", "--assume-online"), "attempt %d", attempt)
		assert.Equal(t, 1, res.Retried)
		assert.NotEmpty(t, res.SyncError)
	}

	var res SyncResult
	err = executeJSON(t, &res, "-c", cfg, "sync", "--assume-online")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.FailedTotal)

	var st StatusResult
	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	require.Len(t, st.Failed, 1)
	assert.Contains(t, st.Failed[0].LastError, "backend down")

	var moved FailedResult
	require.NoError(t, executeJSON(t, &moved, "-c", cfg, "retry-failed"))
	assert.Equal(t, 1, moved.Count)

	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	require.Len(t, st.Pending, 1)
	assert.Zero(t, st.Pending[0].RetryCount)
	assert.Empty(t, st.Failed)

	// Quarantine again, then drop it.
	for attempt := 1; attempt <= queue.MaxRetries; attempt++ {
		_, _ = execute(t, "-c", cfg, "sync", "--assume-online")
	}
	require.NoError(t, executeJSON(t, &moved, "-c", cfg, "discard-failed"))
	assert.Equal(t, 1, moved.Count)

	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	assert.Empty(t, st.Pending)
	assert.Empty(t, st.Failed)
}

func TestEnqueue_Validation(t *testing.T) {
	cfg := writeConfig(t, unreachableURL(t))

	tests := []struct {
		name string
		args []string
	}{
		{"unknown kind", []string{"enqueue", "invoices", "create"}},
		{"unknown operation", []string{"enqueue", "tasks", "upsert", "1"}},
		{"update without id", []string{"enqueue", "tasks", "update"}},
		{"delete without id", []string{"enqueue", "crew", "delete"}},
		{"bad json", []string{"enqueue", "tasks", "create", "--data", "{"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"-c", cfg}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestSync_RequiresRemoteURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("localStore:\n  driver: memory\n"), 0o600))

	_, err := execute(t, "-c", path, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "remote.url")
}

func TestRun_ReplaysStdinMutations(t *testing.T) {
	mem, url := newRemote(t)
	cfg := writeConfig(t, url)

	input := `{"entityKind":"tasks","operation":"create","entityId":"temp_a1","payload":{"title":"Check valve"}}
{"entityKind":"tasks","operation":"update","entityId":"temp_a1","payload":{"status":"completed"}}
`
	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"-c", cfg, "run", "--stdin"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		doc, err := mem.Get(context.Background(), "tasks", "task-1")
		return err == nil && doc["status"] == "completed"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	var st StatusResult
	require.NoError(t, executeJSON(t, &st, "-c", cfg, "status"))
	assert.Empty(t, st.Pending)
	assert.Empty(t, st.Failed)
	assert.Equal(t, 1, mem.Len("tasks"))
}

func TestRun_StateFileEvents(t *testing.T) {
	mem, url := newRemote(t)
	cfg := writeConfig(t, url)
	stateFile := filepath.Join(t.TempDir(), "network")
	f, err := os.OpenFile(cfg, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "  stateFile: %s\n", stateFile)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = execute(t, "-c", cfg, "enqueue", "crew", "create", "--data", `{"name":"Lin"}`)
	require.NoError(t, err)

	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"-c", cfg, "run"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.NoError(t, os.WriteFile(stateFile, []byte("foreground\n"), 0o600))
	require.Eventually(t, func() bool { return mem.Len("crew") == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestServe(t *testing.T) {
	addr := strings.TrimPrefix(strings.TrimSuffix(unreachableURL(t), "/rpc"), "ws://")

	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--addr", addr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	client := remote.NewClient("ws://"+addr+"/rpc", remote.ClientOptions{Timeout: time.Second})
	defer client.Close()

	var id string
	require.Eventually(t, func() bool {
		var err error
		id, err = client.Create(context.Background(), "tasks", map[string]any{"title": "x"})
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	doc, err := client.Get(context.Background(), "tasks", id)
	require.NoError(t, err)
	assert.Equal(t, "x", doc["title"])

	cancel()
	require.NoError(t, <-done)
}
