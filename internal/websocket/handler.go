package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Nayan-Bera/New-Practo-backend/internal/auth"
	"github.com/Nayan-Bera/New-Practo-backend/internal/coordinator"
	"github.com/Nayan-Bera/New-Practo-backend/pkg/types"
)

const (
	// maxMessageSize caps inbound frames; analyzeFrame carries base64 image
	// data, so the cap is generous.
	maxMessageSize = 1 << 20

	// Inbound rate limit per connection. Frame submissions arrive at most a
	// few per second; anything faster is a misbehaving client.
	messagesPerSecond = 20
	messageBurst      = 40
)

// Handler upgrades HTTP requests to WebSocket connections, authenticates
// them, and runs each connection's read pump against the coordinator.
type Handler struct {
	upgrader websocket.Upgrader
	tokens   *auth.TokenManager
	co       *coordinator.Coordinator
	log      *zap.Logger
}

// NewHandler creates the WebSocket entry point.
func NewHandler(tokens *auth.TokenManager, co *coordinator.Coordinator, log *zap.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser exam clients connect from arbitrary deployments; the
			// credential token is the trust boundary, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tokens: tokens,
		co:     co,
		log:    log,
	}
}

// ServeHTTP authenticates the handshake, upgrades, and serves the connection
// until it drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, types.ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(raw)
	client := coordinator.NewClient(claims.UserID, claims.Role, conn, h.co.NewAnalyzer())

	h.log.Info("connection established",
		zap.String("userId", claims.UserID),
		zap.String("role", claims.Role),
		zap.String("remote", r.RemoteAddr),
	)

	h.serve(conn, client)
}

// authenticate extracts the credential token from the query string or the
// Authorization header and verifies it.
func (h *Handler) authenticate(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) > len(prefix) && header[:len(prefix)] == prefix {
			token = header[len(prefix):]
		}
	}
	return h.tokens.ParseToken(token)
}

// serve runs the read pump. On exit the disconnect path runs exactly once
// with a classified reason.
func (h *Handler) serve(conn *Connection, client *coordinator.Client) {
	reason := "transport close"
	defer func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.co.Disconnect(ctx, client, reason)
		h.log.Info("connection closed",
			zap.String("userId", client.UserID()),
			zap.String("reason", reason),
		)
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(messagesPerSecond), messageBurst)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			reason = classifyReadError(err)
			return
		}

		if !limiter.Allow() {
			client.SendError(errRateLimited)
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			client.SendError(types.ErrMalformedPayload)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		h.co.Dispatch(ctx, client, env)
		cancel()
	}
}

// classifyReadError maps transport failures onto disconnect reasons the
// coordinator treats as transient, and clean closes onto explicit departure.
func classifyReadError(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "client namespace disconnect"
	}
	if websocket.IsUnexpectedCloseError(err) {
		return "transport close"
	}
	return "transport error"
}
