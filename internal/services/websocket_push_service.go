package services

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go-dashboard/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// Connection is one live dashboard socket bound to an account.
type Connection struct {
	ID      string
	Account string
	conn    *websocket.Conn
	send    chan []byte
}

// PushMessage is the envelope of every server-initiated message.
type PushMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id"`
	Account   string      `json:"account"`
	Data      interface{} `json:"data"`
}

// WebSocketPushService fans server events out to every open socket of an
// account: withdrawal progress, new-payment counts and IPN results. It
// implements Pusher. Pushes to an account with no open sockets are dropped.
type WebSocketPushService struct {
	upgrader websocket.Upgrader
	logger   *logrus.Logger

	mu           sync.RWMutex
	accountConns map[string][]*Connection
	hub          chan PushMessage
	register     chan *Connection
	unregister   chan *Connection
}

// NewWebSocketPushService creates the service and starts its hub loop.
func NewWebSocketPushService(allowedOrigins []string, logger *logrus.Logger) *WebSocketPushService {
	s := &WebSocketPushService{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:       logger,
		accountConns: make(map[string][]*Connection),
		hub:          make(chan PushMessage, 256),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
	}
	go s.run()
	return s
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleConnection upgrades the request and serves the socket until it
// closes. The caller must have authenticated accountAddress already.
func (s *WebSocketPushService) HandleConnection(w http.ResponseWriter, r *http.Request, accountAddress string) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &Connection{
		ID:      uuid.New().String(),
		Account: strings.ToLower(accountAddress),
		conn:    ws,
		send:    make(chan []byte, sendBuffer),
	}
	s.register <- conn

	go conn.writePump()
	go s.readPump(conn)
	return nil
}

// Push queues a message to every open socket of the account.
func (s *WebSocketPushService) Push(accountAddress, messageType string, data interface{}) {
	s.hub <- PushMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		Account:   strings.ToLower(accountAddress),
		Data:      data,
	}
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)
		case conn := <-s.unregister:
			s.handleUnregister(conn)
		case message := <-s.hub:
			s.handleBroadcast(message)
		}
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mu.Lock()
	s.accountConns[conn.Account] = append(s.accountConns[conn.Account], conn)
	s.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	s.logger.WithFields(logrus.Fields{
		"account":       conn.Account,
		"connection_id": conn.ID,
	}).Info("websocket connection registered")

	s.enqueue(conn, PushMessage{
		Type:      "connection_established",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.New().String(),
		Account:   conn.Account,
		Data:      map[string]string{"connection_id": conn.ID},
	})
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mu.Lock()
	conns := s.accountConns[conn.Account]
	for i, c := range conns {
		if c.ID == conn.ID {
			s.accountConns[conn.Account] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(s.accountConns[conn.Account]) == 0 {
		delete(s.accountConns, conn.Account)
	}
	s.mu.Unlock()

	close(conn.send)
	conn.conn.Close()
	metrics.WebSocketConnections.Dec()
	s.logger.WithFields(logrus.Fields{
		"account":       conn.Account,
		"connection_id": conn.ID,
	}).Info("websocket connection closed")
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mu.RLock()
	conns := s.accountConns[message.Account]
	s.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.WithError(err).WithField("type", message.Type).Error("failed to marshal push message")
		return
	}

	for _, conn := range conns {
		select {
		case conn.send <- data:
			metrics.WebSocketMessagesSent.WithLabelValues(message.Type).Inc()
		default:
			s.logger.WithField("connection_id", conn.ID).Warn("websocket send buffer full, dropping message")
		}
	}
}

func (s *WebSocketPushService) enqueue(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case conn.send <- data:
	default:
	}
}

// readPump discards client frames and keeps the pong deadline fresh. The
// protocol is push-only.
func (s *WebSocketPushService) readPump(conn *Connection) {
	defer func() {
		s.unregister <- conn
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).WithField("connection_id", conn.ID).Debug("websocket read error")
			}
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
