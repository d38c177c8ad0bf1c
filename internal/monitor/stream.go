package monitor

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"

	"github.com/dudu/eyebox/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message types sent on the stream
const (
	MessageWelcome  = "WELCOME"
	MessageSnapshot = "SNAPSHOT"
)

// StreamMessage is one websocket frame sent to stream clients.
type StreamMessage struct {
	Type      string             `json:"type"`
	ClientID  string             `json:"clientId"`
	Timestamp int64              `json:"timestamp"`
	Snapshot  *pipeline.Snapshot `json:"snapshot,omitempty"`
}

func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			s.log.Errorf("failed to generate client id: %v", err)
			conn.Close()
			return
		}
		clientID = id.String()
	}

	s.metrics.IncrementWebSocketConnections()
	entry := s.log.WithField("client", clientID)
	entry.Info("stream client connected")

	snaps, unsubscribe := s.source.Subscribe()
	closed := make(chan struct{})

	defer func() {
		unsubscribe()
		conn.Close()
		s.metrics.DecrementWebSocketConnections()
		entry.Info("stream client disconnected")
	}()

	go s.readPump(conn, closed)

	send := func(msg StreamMessage) error {
		msg.ClientID = clientID
		msg.Timestamp = time.Now().Unix()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	if err := send(StreamMessage{Type: MessageWelcome, Snapshot: s.source.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case snap := <-snaps:
			if err := send(StreamMessage{Type: MessageSnapshot, Snapshot: snap}); err != nil {
				entry.Debugf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and signals when the connection ends.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("stream read error: %v", err)
			}
			return
		}
	}
}
