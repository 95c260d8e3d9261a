package api

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local inspection tool
	},
}

// stream pushes controller events to websocket clients.
type stream struct {
	controller *host.Controller
	log        *zap.Logger
}

func newStream(controller *host.Controller, log *zap.Logger) *stream {
	return &stream{controller: controller, log: log}
}

// clientMessage is what a client may send on the socket.
type clientMessage struct {
	Type string `json:"type"`
}

func (s *stream) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.controller.Subscribe(64)
	defer cancel()

	if err := s.send(conn, gin.H{"type": "state", "state": s.controller.State()}); err != nil {
		return
	}

	// Reader: answers pings and notices the client leaving.
	gone := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(gone)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := s.send(conn, ev); err != nil {
				return
			}
		case <-pings:
			if err := s.send(conn, gin.H{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *stream) send(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
