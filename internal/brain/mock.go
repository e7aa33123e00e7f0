package brain

import (
	"context"
	"sync"
	"time"
)

// MockClient scripts completion outcomes for tests and local runs without a
// completion service.
type MockClient struct {
	mu       sync.Mutex
	requests []Request
	respond  func(req Request) (string, error)
	delay    time.Duration
}

func NewMockClient(respond func(req Request) (string, error)) *MockClient {
	if respond == nil {
		respond = func(req Request) (string, error) {
			return "simulated answer to: " + req.UserText, nil
		}
	}
	return &MockClient{respond: respond}
}

// SetDelay makes every call sleep first, for timeout tests.
func (c *MockClient) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

func (c *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	respond := c.respond
	delay := c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ErrTimeout
		case <-time.After(delay):
		}
	}
	return respond(req)
}

// Requests returns a copy of every request seen so far.
func (c *MockClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}
