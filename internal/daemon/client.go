package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
)

// Client sends requests to a serving process.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a client for cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the server.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.socketPath, err)
	}
	return conn, nil
}

// IsRunning checks if a server is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	return c.call(ctx, MethodPing, nil, &res)
}

// Search runs a query on the server.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var res SearchResult
	if err := c.call(ctx, MethodSearch, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status retrieves the server status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, MethodStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Enqueue asks the server to reindex or remove one page.
func (c *Client) Enqueue(ctx context.Context, params EnqueueParams) (int, error) {
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("invalid params: %w", err)
	}
	var res EnqueueResult
	if err := c.call(ctx, MethodEnqueue, params, &res); err != nil {
		return 0, err
	}
	return res.Queued, nil
}

// Reindex asks the server to reindex tenants, or rebuild when params.Clear.
func (c *Client) Reindex(ctx context.Context, params ReindexParams) (int, error) {
	var res ReindexResult
	if err := c.call(ctx, MethodReindex, params, &res); err != nil {
		return 0, err
	}
	return res.Scheduled, nil
}

// call sends one request and decodes its result into out. Errors carrying a
// wikisearch code come back as *errors.IndexError.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}

	if resp.Error != nil {
		if resp.Error.Data != "" {
			return wserrors.New(resp.Error.Data, resp.Error.Message, nil)
		}
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}
