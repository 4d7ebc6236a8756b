package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"collateral-backend/internal/metrics"
	"collateral-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection one open push socket bound to a user address
type Connection struct {
	ID          string
	UserAddress string
	Conn        *websocket.Conn
	Send        chan []byte
	LastPing    time.Time
}

// PushMessage is the frame written to clients
type PushMessage struct {
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	MessageID   string      `json:"message_id"`
	UserAddress string      `json:"user_address"`
	Data        interface{} `json:"data"`
}

// WebSocketPushService fans committed domain events out to the sockets of the users they concern.
type WebSocketPushService struct {
	connections map[string]*Connection
	userConns   map[string][]*Connection
	mutex       sync.RWMutex

	hub        chan PushMessage
	register   chan *Connection
	unregister chan *Connection
	log        *logrus.Entry
}

// NewWebSocketPushService creates the hub and starts its loop
func NewWebSocketPushService() *WebSocketPushService {
	s := &WebSocketPushService{
		connections: make(map[string]*Connection),
		userConns:   make(map[string][]*Connection),
		hub:         make(chan PushMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		log:         logrus.WithField("component", "websocket_push"),
	}
	go s.run()
	return s
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

// PublishDomainEvent pushes ev to the actor and, when different, the position owner or affected user.
func (s *WebSocketPushService) PublishDomainEvent(ev DomainEvent) {
	targets := map[string]struct{}{}
	if a := utils.NormalizeAddress(ev.Actor); a != "" {
		targets[a] = struct{}{}
	}
	for _, key := range []string{"owner", "user", "recipient"} {
		if v, ok := ev.Payload[key].(string); ok {
			if a := utils.NormalizeAddress(v); a != "" {
				targets[a] = struct{}{}
			}
		}
	}
	for user := range targets {
		s.Push(user, ev.Kind, ev)
	}
}

// Push queues a message for every connection of userAddress. Drops it if the hub is saturated.
func (s *WebSocketPushService) Push(userAddress, msgType string, data interface{}) {
	msg := PushMessage{
		Type:        msgType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		MessageID:   uuid.NewString(),
		UserAddress: userAddress,
		Data:        data,
	}
	select {
	case s.hub <- msg:
	default:
		s.log.WithField("type", msgType).Warn("⚠️ Push hub full, dropping message")
	}
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	s.connections[conn.ID] = conn
	s.userConns[conn.UserAddress] = append(s.userConns[conn.UserAddress], conn)
	count := len(s.connections)
	s.mutex.Unlock()

	metrics.WebSocketConnections.Set(float64(count))
	s.log.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("📱 WebSocket connection registered")

	s.sendToConnection(conn, PushMessage{
		Type:        "connection_established",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		MessageID:   uuid.NewString(),
		UserAddress: conn.UserAddress,
		Data:        map[string]string{"connection_id": conn.ID},
	})
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	if _, ok := s.connections[conn.ID]; !ok {
		s.mutex.Unlock()
		return
	}
	delete(s.connections, conn.ID)
	conns := s.userConns[conn.UserAddress]
	for i, c := range conns {
		if c.ID == conn.ID {
			s.userConns[conn.UserAddress] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(s.userConns[conn.UserAddress]) == 0 {
		delete(s.userConns, conn.UserAddress)
	}
	count := len(s.connections)
	s.mutex.Unlock()

	close(conn.Send)
	metrics.WebSocketConnections.Set(float64(count))
	s.log.WithFields(logrus.Fields{"user": conn.UserAddress, "conn_id": conn.ID}).Info("📱 WebSocket connection unregistered")
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	conns := append([]*Connection(nil), s.userConns[message.UserAddress]...)
	s.mutex.RUnlock()

	for _, conn := range conns {
		s.sendToConnection(conn, message)
	}
}

func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		s.log.WithError(err).Error("❌ Failed to marshal push message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		s.log.WithField("conn_id", conn.ID).Warn("⚠️ Connection send buffer full, dropping message")
	}
}

// HandleWebSocket upgrades the request and binds the socket to userAddress
func (s *WebSocketPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request, userAddress string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("❌ WebSocket upgrade failed")
		return
	}
	conn := &Connection{
		ID:          uuid.NewString(),
		UserAddress: utils.NormalizeAddress(userAddress),
		Conn:        ws,
		Send:        make(chan []byte, 256),
		LastPing:    time.Now(),
	}
	s.register <- conn

	go s.handleConnectionWrite(conn)
	go s.handleConnectionRead(conn)
}

func (s *WebSocketPushService) handleConnectionWrite(conn *Connection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketPushService) handleConnectionRead(conn *Connection) {
	defer func() {
		s.unregister <- conn
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.LastPing = time.Now()
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Warn("❌ WebSocket read error")
			}
			return
		}
	}
}

// GetActiveConnections returns the number of open sockets
func (s *WebSocketPushService) GetActiveConnections() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

// GetUserConnections returns the number of open sockets for one user
func (s *WebSocketPushService) GetUserConnections(userAddress string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.userConns[utils.NormalizeAddress(userAddress)])
}
