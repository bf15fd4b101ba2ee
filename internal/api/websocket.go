package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"d4macro/internal/protocol"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server only listens on loopback; overlays load from file:// origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.Mutex
	broadcast  chan protocol.Message
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	stopOnce   sync.Once
}

// WebSocketClient represents a connected status listener (overlay, CLI)
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string

	// closed is set under clientsMu once the hub has closed send
	closed bool
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.clientsMu.Unlock()
			log.Printf("WS: New client registered from %s. Total clients: %d", client.ip, n)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				client.close()
				log.Printf("WS: Client unregistered from %s. Total clients: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				client.close()
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() {
		close(m.shutdown)
	})
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			// Slow consumer, drop it
			client.close()
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	// Queue the current status before registering so it is the first frame
	client.sendMessage(statusMessage(m.server))

	select {
	case m.register <- client:
	case <-m.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func statusMessage(s *Server) protocol.Message {
	return protocol.Message{
		Type:    protocol.TypeStatus,
		Payload: StatusPayload(s.ctrl.Status()),
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: Read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues a message for this client only; it never blocks
func (c *WebSocketClient) sendMessage(msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WS: Failed to marshal message: %v", err)
		return
	}

	c.manager.clientsMu.Lock()
	defer c.manager.clientsMu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("WS: Dropping message for slow client %s", c.ip)
	}
}

// close closes the send channel; the caller holds clientsMu
func (c *WebSocketClient) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("WS: Invalid message format: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeStatusRequest:
		c.sendMessage(statusMessage(c.manager.server))

	case protocol.TypePing:
		c.sendMessage(protocol.Message{Type: protocol.TypePing})

	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
			log.Printf("WS: Invalid command payload: %v", err)
			return
		}

		log.Printf("WS: Received command %s %s from %s", payload.Action, payload.ProfileID, c.ip)

		// The resulting status arrives through the controller's status broadcast
		go func() {
			if err := runCommand(c.manager.server.ctrl, payload); err != nil {
				log.Printf("WS: Command failed: %v", err)
				c.sendMessage(protocol.Message{
					Type:    protocol.TypeError,
					Payload: protocol.ErrorPayload{Message: err.Error()},
				})
			}
		}()
	}
}

// runCommand executes a lifecycle command received from a client
func runCommand(ctrl Controller, cmd protocol.CommandPayload) error {
	switch cmd.Action {
	case protocol.CommandStart:
		return ctrl.StartProfile(cmd.ProfileID)
	case protocol.CommandStop:
		return ctrl.StopProfile(cmd.ProfileID)
	case protocol.CommandPause:
		return ctrl.PauseProfile(cmd.ProfileID)
	case protocol.CommandResume:
		return ctrl.ResumeProfile(cmd.ProfileID)
	case protocol.CommandStopAll:
		ctrl.StopAllProfiles()
	case protocol.CommandPauseAll:
		ctrl.PauseAll()
	case protocol.CommandResumeAll:
		ctrl.ResumeAll()
	default:
		return fmt.Errorf("unknown command: %s", cmd.Action)
	}
	return nil
}

// BroadcastStatus pushes a status payload to every client
func (m *WSManager) BroadcastStatus(status protocol.StatusPayload) {
	msg := protocol.Message{
		Type:    protocol.TypeStatus,
		Payload: status,
	}
	select {
	case m.broadcast <- msg:
	case <-m.shutdown:
	}
}
