package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
	"mines-backend/internal/services"
)

const (
	MessageBalanceUpdate  = "BALANCE_UPDATE"
	MessageBigWins        = "BIG_WINS"
	MessageBigWin         = "BIG_WIN"
	MessageSessionSettled = "SESSION_SETTLED"
	MessagePing           = "PING"
	MessagePong           = "PONG"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
}

// WebSocketHub pushes settlements to their owner and big wins to everyone.
// It implements services.Notifier; events are dropped rather than queued when
// the hub or a client falls behind.
type WebSocketHub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
		done:       make(chan struct{}),
	}
}

func (hub *WebSocketHub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range hub.clients {
				for client := range conns {
					close(client.send)
				}
			}
			hub.clients = make(map[string]map[*Client]struct{})
			return

		case client := <-hub.register:
			if hub.clients[client.UserID] == nil {
				hub.clients[client.UserID] = make(map[*Client]struct{})
			}
			hub.clients[client.UserID][client] = struct{}{}
			log.Debugf("websocket client registered: %s", client.UserID)

		case client := <-hub.unregister:
			if conns, ok := hub.clients[client.UserID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(hub.clients, client.UserID)
					}
					log.Debugf("websocket client unregistered: %s", client.UserID)
				}
			}

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

func (hub *WebSocketHub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("failed to marshal websocket message: %v", err)
		return
	}

	deliver := func(client *Client) {
		select {
		case client.send <- data:
		default:
			log.Warnf("websocket client %s is slow, dropping %s", client.UserID, message.Type)
		}
	}

	if message.UserID != "" {
		for client := range hub.clients[message.UserID] {
			deliver(client)
		}
		return
	}
	for _, conns := range hub.clients {
		for client := range conns {
			deliver(client)
		}
	}
}

func (hub *WebSocketHub) enqueue(ch chan *Client, client *Client) {
	select {
	case ch <- client:
	case <-hub.done:
	}
}

func (hub *WebSocketHub) publish(message *Message) {
	select {
	case hub.broadcast <- message:
	default:
		log.Warnf("websocket hub is full, dropping %s", message.Type)
	}
}

func (hub *WebSocketHub) SessionSettled(ctx context.Context, session *models.GameSession) {
	hub.publish(&Message{
		Type:   MessageSessionSettled,
		UserID: session.UserID,
		Data:   session.SettledEvent(),
	})
}

func (hub *WebSocketHub) BigWin(ctx context.Context, win *models.BigWin) {
	hub.publish(&Message{
		Type: MessageBigWin,
		Data: win.View(),
	})
}

type WebSocketHandler struct {
	engine *services.MinesEngine
	hub    *WebSocketHub
}

func NewWebSocketHandler(engine *services.MinesEngine, hub *WebSocketHub) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, hub: hub}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	player, ok := currentPlayer(c)
	if !ok {
		respondError(c, errs.ErrUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("failed to upgrade to websocket: %v", err)
		return
	}

	client := &Client{
		UserID: player.ID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	h.hub.enqueue(h.hub.register, client)

	go client.writePump()

	h.sendSnapshot(c.Request.Context(), client, player)
	h.readPump(client)
}

func (h *WebSocketHandler) sendSnapshot(ctx context.Context, client *Client, player models.Player) {
	if balance, err := h.engine.GetBalance(ctx, player); err == nil {
		h.hub.publish(&Message{Type: MessageBalanceUpdate, UserID: client.UserID, Data: balance})
	} else {
		log.Warnf("failed to get balance for websocket: %v", err)
	}

	if wins, err := h.engine.ListRecentBigWins(ctx); err == nil {
		h.hub.publish(&Message{Type: MessageBigWins, UserID: client.UserID, Data: wins})
	} else {
		log.Warnf("failed to get big wins for websocket: %v", err)
	}
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.hub.enqueue(h.hub.unregister, client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("websocket error: %v", err)
			}
			return
		}

		if msg.Type == MessagePing {
			h.hub.publish(&Message{
				Type:   MessagePong,
				UserID: client.UserID,
				Data:   gin.H{"timestamp": time.Now().Unix()},
			})
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
