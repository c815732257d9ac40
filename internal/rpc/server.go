package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/taskherd/taskherd/internal/engine"
	"github.com/taskherd/taskherd/internal/telemetry"
)

// DefaultRequestTimeout bounds one request/response exchange on a socket
// connection. Batch polling can legitimately run for half an hour, so the
// ceiling sits above the polling deadline.
const DefaultRequestTimeout = 35 * time.Minute

// handlerFunc decodes raw args and runs one operation.
type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Server dispatches requests to an Engine.
type Server struct {
	engine         *engine.Engine
	handlers       map[string]handlerFunc
	requestTimeout time.Duration
	metrics        *telemetry.OperationMetrics
}

// NewServer builds a Server over the engine with all twelve operations
// registered.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine:         eng,
		requestTimeout: DefaultRequestTimeout,
	}
	s.handlers = map[string]handlerFunc{
		OpCreateIssue:       handle(eng.CreateIssue),
		OpListBacklog:       handle(eng.ListBacklog),
		OpSelectNextIssue:   handle(eng.SelectNextIssue),
		OpAdvanceWorkflow:   handle(eng.AdvanceWorkflow),
		OpReleaseLock:       handle(eng.ReleaseLock),
		OpForceClaim:        handle(eng.ForceClaim),
		OpGetWorkflowStatus: handle(eng.GetWorkflowStatus),
		OpSyncBacklogLabels: handle(eng.SyncBacklogLabels),
		OpGetPRStatus:       handle(eng.GetPRStatus),
		OpBulkUpdateIssues:  handle(eng.BulkUpdateIssues),
		OpImplementBatch:    handle(eng.ImplementBatch),
		OpBatchContinue:     handle(eng.BatchContinue),
	}
	return s
}

// WithMetrics attaches operation instruments.
func (s *Server) WithMetrics(m *telemetry.OperationMetrics) *Server {
	s.metrics = m
	return s
}

// handle adapts a typed engine method to the raw-args handler shape.
func handle[A any, R any](fn func(context.Context, A) (R, error)) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, engine.Errf(engine.CodeInternal, "invalid arguments: %v", err)
			}
		}
		return fn(ctx, args)
	}
}

// Handle runs one request and builds its response envelope.
func (s *Server) Handle(ctx context.Context, req *Request) Response {
	resp := Response{RequestID: req.RequestID}

	h, ok := s.handlers[req.Operation]
	if !ok {
		resp.Error = fmt.Sprintf("unknown operation %q", req.Operation)
		resp.Code = string(engine.CodeInternal)
		return resp
	}

	began := time.Now()
	result, err := h(ctx, req.Args)
	s.metrics.Record(ctx, req.Operation, err == nil, time.Since(began))
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(engine.CodeOf(err))
		if opErr, ok := engine.AsError(err); ok {
			resp.Error = opErr.Message
			resp.Details = opErr.Details
		}
		return resp
	}

	data, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		resp.Error = fmt.Sprintf("encoding result: %v", marshalErr)
		resp.Code = string(engine.CodeInternal)
		return resp
	}
	resp.Success = true
	resp.Data = data
	return resp
}

// serveStream runs the line loop over one reader/writer pair until EOF.
func (s *Server) serveStream(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req Request
		if unmarshalErr := json.Unmarshal(line, &req); unmarshalErr != nil {
			if writeErr := writeResponse(writer, Response{
				Error: fmt.Sprintf("invalid request: %v", unmarshalErr),
				Code:  string(engine.CodeInternal),
			}); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp := s.Handle(ctx, &req)
		if writeErr := writeResponse(writer, resp); writeErr != nil {
			return writeErr
		}
		if err == io.EOF {
			return nil
		}
	}
}

func writeResponse(writer *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing newline: %w", err)
	}
	return writer.Flush()
}

// ServeStdio serves requests on stdin/stdout until EOF. This is the
// default transport when the engine is hosted as a tool subprocess.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serveStream(ctx, os.Stdin, os.Stdout)
}

// ServeSocket listens on a unix socket and serves each connection on its
// own goroutine. Returns when the context is cancelled or the listener
// fails.
func (s *Server) ServeSocket(ctx context.Context, path string) error {
	// A socket left behind by a dead process would block the bind.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", path, err)
	}
	defer listener.Close()

	if err := os.Chmod(path, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not restrict socket permissions: %v\n", err)
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", acceptErr)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic in connection handler: %v\n%s\n", r, debug.Stack())
		}
	}()

	_ = conn.SetDeadline(time.Now().Add(s.requestTimeout))
	_ = s.serveStream(ctx, conn, conn)
}
