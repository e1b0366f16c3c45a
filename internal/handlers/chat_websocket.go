package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"

	"lens0/internal/extraction"
	"lens0/internal/models"
	"lens0/internal/services"
)

const (
	// turnsPerSecond throttles chat turn ingestion per connection
	turnsPerSecond = 2
	turnBurst      = 5

	maxTurnLength = 10000

	readDeadline = 120 * time.Second
	pingInterval = 30 * time.Second
)

// ClientMessage is one inbound WebSocket frame
type ClientMessage struct {
	Type    string `json:"type"` // "turn" or "ping"
	Content string `json:"content,omitempty"`
	Project string `json:"project,omitempty"`
}

// ServerMessage is one outbound WebSocket frame
type ServerMessage struct {
	Type     string `json:"type"` // "connected", "stored", "skipped", "promoted", "promotion_decision", "error", "pong"
	Content  string `json:"content,omitempty"`
	Category string `json:"category,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Expert   string `json:"expert,omitempty"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// promotionEvent mirrors the payload the promotion service publishes.
type promotionEvent struct {
	UserID   string `json:"user_id"`
	Expert   string `json:"expert"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// ChatWebSocketHandler ingests chat turns over WebSocket. Each storable
// first-person statement becomes a global fact; health-extractable
// statements additionally queue a promotion into the health profile.
// Questions and reflections pass through untouched. With Redis
// available, promotion decisions for the connected user are pushed back
// over the same connection once the worker settles them.
type ChatWebSocketHandler struct {
	facts      *services.FactStorageService
	promotions *services.PromotionService
	redis      *services.RedisService
}

// NewChatWebSocketHandler creates a new chat WebSocket handler. redis may be nil.
func NewChatWebSocketHandler(facts *services.FactStorageService, promotions *services.PromotionService, redis *services.RedisService) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{facts: facts, promotions: promotions, redis: redis}
}

// Handle handles a new WebSocket connection
func (h *ChatWebSocketHandler) Handle(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		c.WriteJSON(ServerMessage{Type: "error", Content: "Authentication required"})
		c.Close()
		return
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordWebSocketConnect()
		defer m.RecordWebSocketDisconnect()
	}

	done := make(chan struct{})
	defer close(done)

	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	go h.pingLoop(c, done)

	// The event forwarder and the read loop both write frames; WriteJSON
	// is not safe for concurrent use.
	var writeMu sync.Mutex
	send := func(msg ServerMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := c.WriteJSON(msg); err != nil {
			log.Printf("⚠️ [CHAT-WS] Failed to write frame for %s: %v", userID, err)
		}
	}

	if h.redis != nil {
		go h.forwardPromotionEvents(userID, send, done)
	}

	limiter := rate.NewLimiter(rate.Limit(turnsPerSecond), turnBurst)

	send(ServerMessage{Type: "connected", Content: "Ready to receive turns."})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(readDeadline))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(ServerMessage{Type: "error", Content: "Invalid message"})
			continue
		}

		if m := services.GetMetrics(); m != nil {
			m.RecordWebSocketMessage(msg.Type, "inbound")
		}

		switch msg.Type {
		case "ping":
			send(ServerMessage{Type: "pong"})
		case "turn":
			if !limiter.Allow() {
				send(ServerMessage{Type: "error", Content: "Slow down"})
				continue
			}
			h.handleTurn(send, userID, msg)
		default:
			send(ServerMessage{Type: "error", Content: "Unknown message type"})
		}
	}
}

// forwardPromotionEvents relays settled promotion decisions for this
// user from the Redis event channel back to the client.
func (h *ChatWebSocketHandler) forwardPromotionEvents(userID string, send func(ServerMessage), done <-chan struct{}) {
	pubsub := h.redis.Subscribe(context.Background(), services.ChannelPromotionEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev promotionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if ev.UserID != userID {
				continue
			}
			send(ServerMessage{
				Type:     "promotion_decision",
				Expert:   ev.Expert,
				Decision: ev.Decision,
				Reason:   ev.Reason,
			})
		}
	}
}

// handleTurn runs one chat turn through deterministic extraction
func (h *ChatWebSocketHandler) handleTurn(send func(ServerMessage), userID string, msg ClientMessage) {
	if msg.Content == "" || len(msg.Content) > maxTurnLength {
		send(ServerMessage{Type: "error", Content: "Turn content must be 1 to 10,000 characters"})
		return
	}

	if !extraction.IsStorable(msg.Content) {
		send(ServerMessage{Type: "skipped", Content: "Not a storable statement"})
		return
	}

	candidate, ok := extraction.Extract(msg.Content)
	if !ok {
		send(ServerMessage{Type: "skipped", Content: "Nothing extractable"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := h.facts.CreateGlobalFact(ctx, userID, candidate.Claim, candidate.Category, models.FactSourceStatementExtraction); err != nil {
		log.Printf("❌ [CHAT-WS] Failed to store fact for %s: %v", userID, err)
		send(ServerMessage{Type: "error", Content: "Failed to store fact"})
		return
	}

	reply := ServerMessage{Type: "stored", Content: candidate.Claim, Category: candidate.Category}

	// Health-extractable statements also feed the promotion queue. The
	// pipeline decides; refusals here are normal, not errors.
	if _, healthy := extraction.ExtractHealth(msg.Content); healthy {
		job, err := h.promotions.Enqueue(ctx, models.PromotionRequest{
			UserID:    userID,
			Project:   msg.Project,
			Expert:    models.ExpertHealth,
			Source:    models.PromotionSourceUserStatement,
			Statement: msg.Content,
		})
		switch {
		case err == nil:
			reply.Type = "promoted"
			reply.JobID = job.ID.Hex()
		case errors.Is(err, services.ErrSourceNotAllowed),
			errors.Is(err, services.ErrRateLimited),
			errors.Is(err, services.ErrQueueFull):
			// Fact stored; promotion declined by policy
		default:
			log.Printf("⚠️ [CHAT-WS] Promotion enqueue failed for %s: %v", userID, err)
		}
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordWebSocketMessage(reply.Type, "outbound")
	}
	send(reply)
}

// pingLoop keeps the connection alive
func (h *ChatWebSocketHandler) pingLoop(c *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
