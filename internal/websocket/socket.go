// Package websocket carries chat dispatches over a long-lived socket. Each
// text frame is one chat request tagged with a client-chosen id; replies
// carry the same id and may arrive out of order.
package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nibras-backend/internal/middleware"
	"nibras-backend/internal/models"
	"nibras-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 20 << 20
	maxInFlight    = 4
	msgBusy        = "Too many concurrent requests on this connection"
	msgRateLimited = "Too many requests. Please try again later."
	msgInvalidBody = "Invalid request body"
)

type chatDispatcher interface {
	Dispatch(ctx context.Context, req models.ChatRequest, meta services.DispatchMeta) models.ChatResult
}

// Frame is one inbound request or outbound reply.
type Frame struct {
	ID string `json:"id"`
}

type reply struct {
	ID string `json:"id"`
	models.ChatResult
}

// MarshalJSON merges the id into the result envelope.
func (r reply) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(r.ChatResult)
	if err != nil {
		return nil, err
	}
	id, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"id":`)
	buf.Write(id)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

type ChatSocket struct {
	chat     chatDispatcher
	limiter  middleware.Limiter
	upgrader websocket.Upgrader
}

// NewChatSocket accepts upgrades from allowedOrigin or from clients that send
// no Origin header at all. Every request frame is charged against limiter
// under the same key the HTTP route uses; a nil limiter charges nothing.
func NewChatSocket(chat chatDispatcher, limiter middleware.Limiter, allowedOrigin string) *ChatSocket {
	return &ChatSocket{
		chat:    chat,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ServeHTTP upgrades the request and serves frames until the peer goes away.
// Closing the socket cancels every dispatch still in flight on it.
func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &conn{ws: ws}

	// The request context ends when the handler returns, and hijacked
	// connections are not tied to it, so derive the socket lifetime here.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		ws.Close()
		logger.Debug().Msg("websocket closed")
	}()

	meta := services.DispatchMeta{
		RequestID: middleware.GetRequestID(r.Context()),
		Subject:   middleware.GetSubject(r.Context()),
	}
	limitKey := middleware.RateLimitKey(r)

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(ctx, c)
	}()

	slots := make(chan struct{}, maxInFlight)
	logger.Debug().Msg("websocket connected")

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.write(reply{ChatResult: models.ChatResult{Error: msgInvalidBody, Code: "VALIDATION_ERROR"}})
			continue
		}

		req, err := services.DecodeChatRequest(bytes.NewReader(data))
		if err != nil {
			res := models.Failure(err.Error())
			if ve, ok := err.(*services.ValidationError); ok {
				res.Code, res.Fields = "VALIDATION_ERROR", ve.Fields
			}
			c.write(reply{ID: frame.ID, ChatResult: res})
			continue
		}

		if !s.allow(ctx, limitKey) {
			c.write(reply{ID: frame.ID, ChatResult: models.ChatResult{Error: msgRateLimited, Code: "RATE_LIMITED"}})
			continue
		}

		select {
		case slots <- struct{}{}:
		default:
			c.write(reply{ID: frame.ID, ChatResult: models.ChatResult{Error: msgBusy, Code: "RATE_LIMITED"}})
			continue
		}

		frameMeta := meta
		if frame.ID != "" {
			frameMeta.RequestID = meta.RequestID + ":" + frame.ID
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-slots }()

			result := s.chat.Dispatch(ctx, req, frameMeta)
			if ctx.Err() != nil {
				return
			}
			if err := c.write(reply{ID: id, ChatResult: result}); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
			}
		}(frame.ID)
	}
}

// allow charges one request to key. A failing limiter lets the frame through,
// matching the HTTP route.
func (s *ChatSocket) allow(ctx context.Context, key string) bool {
	if s.limiter == nil {
		return true
	}
	d, err := s.limiter.Allow(ctx, key, time.Now())
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return d.Allowed
}

func (s *ChatSocket) keepAlive(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
