package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)
	Enqueue(ctx context.Context, params EnqueueParams) (int, error)
	Reindex(ctx context.Context, params ReindexParams) (int, error)
	Status() StatusResult
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	handler    RequestHandler
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	started  time.Time
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for cfg. Requests are answered by handler.
func NewServer(cfg Config, handler RequestHandler, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
		handler:    handler,
		logger:     logging.OrDefault(logger),
	}, nil
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A leftover socket from a crashed process blocks Listen. Refuse to
	// replace one that still answers.
	if conn, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("another process is serving on %s", s.socketPath)
	}
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("server_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed() {
				break
			}
			s.logger.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// handleConnection processes a single request.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Warn("connection_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_ = encoder.Encode(s.handleRequest(ctx, req))
}

// handleRequest dispatches a request to the handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())

	case MethodSearch:
		var params SearchParams
		if resp, ok := decodeParams(req, &params, params.Validate); !ok {
			return resp
		}
		result, err := s.handler.Search(ctx, params)
		if err != nil {
			return errorResponse(req.ID, ErrCodeSearchFailed, err)
		}
		return NewSuccessResponse(req.ID, result)

	case MethodEnqueue:
		var params EnqueueParams
		if resp, ok := decodeParams(req, &params, params.Validate); !ok {
			return resp
		}
		n, err := s.handler.Enqueue(ctx, params)
		if err != nil {
			return errorResponse(req.ID, ErrCodeIndexFailed, err)
		}
		return NewSuccessResponse(req.ID, EnqueueResult{Queued: n})

	case MethodReindex:
		var params ReindexParams
		if resp, ok := decodeParams(req, &params, nil); !ok {
			return resp
		}
		n, err := s.handler.Reindex(ctx, params)
		if err != nil {
			return errorResponse(req.ID, ErrCodeIndexFailed, err)
		}
		return NewSuccessResponse(req.ID, ReindexResult{Scheduled: n})

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-decodes the generic params of req into dst and validates
// them. On failure it returns the error response to send.
func decodeParams(req Request, dst any, validate func() error) (Response, bool) {
	if req.Params != nil {
		data, err := json.Marshal(req.Params)
		if err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params"), false
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params"), false
		}
	}
	if validate != nil {
		if err := validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()), false
		}
	}
	return Response{}, true
}

// errorResponse maps err to a response. Validation errors become invalid
// params; the wikisearch error code travels in Data.
func errorResponse(id string, code int, err error) Response {
	var ie *wserrors.IndexError
	if errors.As(err, &ie) && ie.Category == wserrors.CategoryValidation {
		code = ErrCodeInvalidParams
	}
	resp := NewErrorResponse(id, code, err.Error())
	if ie != nil {
		resp.Error.Message = ie.Message
		resp.Error.Data = ie.Code
	}
	return resp
}

func (s *Server) status() StatusResult {
	status := s.handler.Status()
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status.Running = true
	status.PID = os.Getpid()
	status.Uptime = time.Since(started).Round(time.Second).String()
	return status
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
