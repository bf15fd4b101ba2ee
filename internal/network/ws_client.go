package network

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"d4macro/internal/protocol"

	"github.com/gorilla/websocket"
)

// StatusClient follows the status stream of a running service
type StatusClient struct {
	addr       string
	token      string
	send       chan protocol.Message
	done       chan struct{}
	closeOnce  sync.Once
	retryDelay time.Duration

	// Callbacks
	OnStatus func(status protocol.StatusPayload)
	OnError  func(message string)

	mu          sync.Mutex
	isConnected bool
}

// NewStatusClient creates a client for the service at addr (host:port)
func NewStatusClient(addr, token string) *StatusClient {
	return &StatusClient{
		addr:       addr,
		token:      token,
		send:       make(chan protocol.Message, 100),
		done:       make(chan struct{}),
		retryDelay: 2 * time.Second,
	}
}

// Start begins the client loop (connect & process)
func (c *StatusClient) Start() {
	go c.loop()
}

func (c *StatusClient) loop() {
	for {
		c.connect()

		// If connect returns, it means we disconnected. Wait a bit and retry.
		select {
		case <-c.done:
			return
		case <-time.After(c.retryDelay):
			log.Println("Status Client: Attempting reconnection...")
		}
	}
}

func (c *StatusClient) connect() {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	log.Printf("Status Client: Connecting to %s", u.String())

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Printf("Status Client: Connection failed: %v", err)
		return
	}
	defer conn.Close()

	c.mu.Lock()
	c.isConnected = true
	c.mu.Unlock()

	log.Println("Status Client: Connected")

	connDone := make(chan struct{})
	stopWrite := make(chan struct{})
	go func() {
		defer close(connDone)
		c.writePump(conn, stopWrite)
	}()

	// Unblock the read when Close is called
	go func() {
		select {
		case <-c.done:
			conn.Close()
		case <-stopWrite:
		}
	}()

	c.readPump(conn)

	c.mu.Lock()
	c.isConnected = false
	c.mu.Unlock()

	// Ensure write pump stops
	close(stopWrite)
	<-connDone
}

func (c *StatusClient) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Status Client: Read error: %v", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Status Client: Invalid message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *StatusClient) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second) // Ping ticker
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			jsonMsg, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Status Client: Marshal error: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, jsonMsg); err != nil {
				log.Printf("Status Client: Write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}

func (c *StatusClient) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeStatus:
		var payload protocol.StatusPayload
		if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
			log.Printf("Status Client: Invalid status payload: %v", err)
			return
		}
		if c.OnStatus != nil {
			c.OnStatus(payload)
		}

	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
			return
		}
		log.Printf("Status Client: Service reported error: %s", payload.Message)
		if c.OnError != nil {
			c.OnError(payload.Message)
		}
	}
}

// SendCommand asks the service to run a lifecycle command
func (c *StatusClient) SendCommand(action, profileID string) {
	c.queue(protocol.Message{
		Type: protocol.TypeCommand,
		Payload: protocol.CommandPayload{
			Action:    action,
			ProfileID: profileID,
		},
	})
}

// RequestStatus asks the service for the current status
func (c *StatusClient) RequestStatus() {
	c.queue(protocol.Message{Type: protocol.TypeStatusRequest})
}

func (c *StatusClient) queue(msg protocol.Message) {
	select {
	case c.send <- msg:
	default:
		log.Printf("Status Client: Send queue full, dropping %s", msg.Type)
	}
}

// IsConnected returns true if the client is connected to the service
func (c *StatusClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// Close stops the client
func (c *StatusClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
