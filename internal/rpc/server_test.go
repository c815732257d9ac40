package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskherd/taskherd/internal/audit"
	"github.com/taskherd/taskherd/internal/batch"
	"github.com/taskherd/taskherd/internal/config"
	"github.com/taskherd/taskherd/internal/engine"
	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/lockstore"
	"github.com/taskherd/taskherd/internal/workflow"
)

// emptyBacklog answers the issue listing with an empty page and everything
// else with 404.
func emptyBacklog() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/issues") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
}

func newTestServer(t *testing.T, handler http.Handler) *Server {
	t.Helper()

	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)

	cfg := &config.Config{
		Owner:            "octo",
		Repo:             "widgets",
		BaseDir:          t.TempDir(),
		LockStaleTimeout: config.DefaultLockStaleTimeout,
	}
	require.NoError(t, cfg.EnsureDirs())

	eng := engine.New(cfg,
		github.NewClient("test-token").WithBaseURL(api.URL),
		lockstore.New(cfg.Dir(config.LocksDir), cfg.LockStaleTimeout),
		workflow.NewStore(cfg.Dir(config.WorkflowDir)),
		batch.NewStore(cfg.Dir(config.BatchesDir)),
		audit.NewLogger(cfg.Dir(config.LogsDir), "sess-rpc"),
		"sess-rpc")

	return NewServer(eng)
}

func TestHandleSuccessEnvelope(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())

	resp := srv.Handle(context.Background(), &Request{
		Operation: OpListBacklog,
		RequestID: "req-1",
	})

	require.True(t, resp.Success, "error: %s", resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Empty(t, resp.Code)
	assert.Empty(t, resp.Error)

	var payload struct {
		Repo  string `json:"repo"`
		Total int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &payload))
	assert.Equal(t, "octo/widgets", payload.Repo)
	assert.Zero(t, payload.Total)
}

func TestHandleTypedError(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())

	args, _ := json.Marshal(map[string]any{
		"issueNumber": 42,
		"targetPhase": "research",
	})
	resp := srv.Handle(context.Background(), &Request{
		Operation: OpAdvanceWorkflow,
		Args:      args,
	})

	assert.False(t, resp.Success)
	assert.Equal(t, string(engine.CodeNotLocked), resp.Code)
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Data)
}

func TestHandleErrorDetails(t *testing.T) {
	// Every PATCH 404s, so the bulk update fails for its one issue and the
	// details carry the per-issue breakdown.
	srv := newTestServer(t, emptyBacklog())

	args, _ := json.Marshal(map[string]any{
		"issueNumbers": []int{7},
		"state":        "closed",
	})
	resp := srv.Handle(context.Background(), &Request{
		Operation: OpBulkUpdateIssues,
		Args:      args,
	})

	assert.False(t, resp.Success)
	assert.Equal(t, string(engine.CodeGitHubAPIError), resp.Code)
	require.NotNil(t, resp.Details)
	assert.Contains(t, resp.Details, "failed")
	assert.Contains(t, resp.Details, "updated")
}

func TestHandleUnknownOperation(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())

	resp := srv.Handle(context.Background(), &Request{Operation: "drop_tables"})

	assert.False(t, resp.Success)
	assert.Equal(t, string(engine.CodeInternal), resp.Code)
	assert.Contains(t, resp.Error, "unknown operation")
}

func TestHandleInvalidArguments(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())

	resp := srv.Handle(context.Background(), &Request{
		Operation: OpListBacklog,
		Args:      json.RawMessage(`{"limit":"twenty"}`),
	})

	assert.False(t, resp.Success)
	assert.Equal(t, string(engine.CodeInternal), resp.Code)
	assert.Contains(t, resp.Error, "invalid arguments")
}

func TestServeStreamLineLoop(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())

	var in bytes.Buffer
	in.WriteString(`{"operation":"list_backlog","request_id":"a"}` + "\n")
	in.WriteString("this is not json\n")
	in.WriteString(`{"operation":"list_backlog","request_id":"b"}` + "\n")

	var out bytes.Buffer
	require.NoError(t, srv.serveStream(context.Background(), &in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first, second, third Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	assert.True(t, first.Success)
	assert.Equal(t, "a", first.RequestID)

	// The malformed line gets an error response and the loop keeps going.
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "invalid request")

	assert.True(t, third.Success)
	assert.Equal(t, "b", third.RequestID)
}

func TestServeSocketRoundTrip(t *testing.T) {
	srv := newTestServer(t, emptyBacklog())
	socketPath := filepath.Join(t.TempDir(), "taskherd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.ServeSocket(ctx, socketPath) }()

	// Wait for the listener to come up.
	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = net.Dial("unix", socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err := conn.Write([]byte(`{"operation":"list_backlog","request_id":"sock-1"}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "sock-1", resp.RequestID)

	cancel()
	require.NoError(t, <-done)
}
