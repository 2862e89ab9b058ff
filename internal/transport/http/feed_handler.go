package http

import (
	"context"
	"net/http"
	"time"

	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// LeaderboardSubscriber streams leaderboard snapshots until cancel is called.
type LeaderboardSubscriber interface {
	SubscribeLeaderboard(ctx context.Context) (<-chan domain.LeaderboardSnapshot, func(), error)
}

// FeedHandler pushes the top of the leaderboard to websocket clients after every recompute.
type FeedHandler struct {
	source   LeaderboardSubscriber
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewFeedHandler(source LeaderboardSubscriber, log *logger.Logger) *FeedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &FeedHandler{
		source: source,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

const writeWait = 10 * time.Second

// Serve upgrades the request and relays snapshots until the client goes away.
// Clients are not expected to send anything; reads only detect the close.
func (h *FeedHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	updates, cancel, err := h.source.SubscribeLeaderboard(ctx)
	if err != nil {
		h.log.Error("leaderboard subscribe failed", "error", err)
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "leaderboard unavailable"}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", "error", err)
				// Unblock the read loop.
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: snap}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
