package coordinator

import (
	"sync"

	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/internal/suspicion"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

// Client is the coordinator's view of one authenticated connection: the
// durable identity from the credential token plus, once joined, the current
// participant handle. The handle changes across rejoin/reconnect; the
// identity never does.
type Client struct {
	userID   string
	role     string
	sender   session.Sender
	analyzer suspicion.FrameAnalyzer

	mu     sync.Mutex
	handle *session.Handle
}

// NewClient wraps an authenticated connection. Each client owns its frame
// analyzer instance since analyzers may carry per-stream state.
func NewClient(userID, role string, sender session.Sender, analyzer suspicion.FrameAnalyzer) *Client {
	return &Client{
		userID:   userID,
		role:     role,
		sender:   sender,
		analyzer: analyzer,
	}
}

// UserID returns the durable identity bound at authentication.
func (c *Client) UserID() string { return c.userID }

// Role returns the role claim from the credential token.
func (c *Client) Role() string { return c.role }

// Handle returns the current participant handle, nil before join.
func (c *Client) Handle() *session.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Client) setHandle(h *session.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = h
}

// takeHandle clears and returns the handle, used on disconnect so cleanup
// runs at most once.
func (c *Client) takeHandle() *session.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handle
	c.handle = nil
	return h
}

// Send delivers one event to this connection only.
func (c *Client) Send(event string, payload interface{}) error {
	return c.sender.SendEvent(event, payload)
}

// SendError converts a handler failure into an error event on this
// connection. Failures never propagate to other participants.
func (c *Client) SendError(err error) {
	_ = c.sender.SendEvent(types.EventError, types.ErrorPayload{Message: err.Error()})
}
