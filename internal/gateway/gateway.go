package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abrezinsky/chanpoll/internal/dispatch"
	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/models"
	"github.com/abrezinsky/chanpoll/internal/observability"
	"github.com/abrezinsky/chanpoll/internal/repository"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // transport adapters connect from anywhere on the LAN
	},
}

// Frame is one inbound transport event. Type selects which fields apply:
// "chat" (channel, nickname, text), "rename" (old_nick, new_nick),
// "login" (nickname, account), "part" (channel, nickname).
type Frame struct {
	Type     string `json:"type"`
	Channel  string `json:"channel,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	OldNick  string `json:"old_nick,omitempty"`
	NewNick  string `json:"new_nick,omitempty"`
	Account  string `json:"account,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Line is one outbound plain text line bound for a channel
type Line struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// AccountDirectory resolves nicknames to known accounts and levels
type AccountDirectory interface {
	GetAccount(ctx context.Context, nickname string) (string, models.Level, error)
	UpsertAccount(ctx context.Context, nickname, account string, level models.Level) error
}

// PollCommander is the poll command surface the gateway routes to
type PollCommander interface {
	Start(channel, durationArg string, choiceArgs []string) error
	Abort(channel string) error
	End(channel string) error
}

// Hub maintains the set of connected transport clients. Inbound frames
// become occurrences (or poll commands); outbound lines are broadcast to
// every client. The hub is the engine's LineSender.
type Hub struct {
	log       logger.Logger
	prefix    string
	directory AccountDirectory
	disp      *dispatch.Dispatcher
	metrics   *observability.Metrics

	polls PollCommander

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// Client is a middleman between one websocket connection and the hub
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Line
}

// New creates a new Hub. The poll commander is attached separately via
// SetPollService since the poll service needs the hub as its LineSender.
func New(log logger.Logger, prefix string, directory AccountDirectory, disp *dispatch.Dispatcher, metrics *observability.Metrics) *Hub {
	return &Hub{
		log:       log,
		prefix:    prefix,
		directory: directory,
		disp:      disp,
		metrics:   metrics,
		clients:   make(map[*Client]struct{}),
	}
}

// SetPollService attaches the command surface
func (h *Hub) SetPollService(polls PollCommander) {
	h.polls = polls
}

// SendLine implements services.LineSender by broadcasting the line to all
// connected clients.
func (h *Hub) SendLine(channel, text string) {
	line := Line{Type: "line", Channel: channel, Text: text}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- line:
		default:
			// Slow client; dropping a line beats stalling the engine.
			h.log.Warn("dropping line for slow client", "client", c.id, "channel", channel)
		}
	}
}

// ServeWs handles websocket requests from transport clients
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade error", "error", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Line, 256),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ConnectedClients.Inc()
	h.log.Debug("client connected", "client", client.id, "total_clients", total)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.metrics.ConnectedClients.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug("client disconnected", "client", c.id, "total_clients", total)
}

// handleFrame turns one inbound frame into an occurrence or a command
func (h *Hub) handleFrame(f Frame) {
	now := time.Now()

	switch f.Type {
	case "chat":
		sender := h.resolveSender(f.Nickname)
		if isCommand(f.Text, h.prefix) {
			h.handleCommand(f.Channel, sender, f.Text)
			return
		}
		h.disp.Dispatch(models.ChatMessage{At: now, Channel: f.Channel, Sender: sender, Text: f.Text})

	case "rename":
		h.disp.Dispatch(models.Rename{At: now, OldNick: f.OldNick, NewNick: f.NewNick})

	case "login":
		// Remember the binding so future chat frames carry the account.
		if err := h.directory.UpsertAccount(context.Background(), f.Nickname, f.Account, models.LevelRegistered); err != nil {
			h.log.Warn("failed to record account login", "nickname", f.Nickname, "error", err)
		}
		h.disp.Dispatch(models.AccountResolved{At: now, Nickname: f.Nickname, Account: f.Account})

	case "part":
		h.disp.Dispatch(models.Departure{At: now, Channel: f.Channel, Sender: h.resolveSender(f.Nickname)})

	default:
		h.log.Debug("ignoring unknown frame type", "type", f.Type)
	}
}

// resolveSender stamps directory identity onto a nickname. Nicknames with
// no directory entry stay account-less at the lowest level.
func (h *Hub) resolveSender(nickname string) models.Sender {
	account, level, err := h.directory.GetAccount(context.Background(), nickname)
	if err != nil {
		if err != repository.ErrNotFound {
			h.log.Warn("account lookup failed", "nickname", nickname, "error", err)
		}
		return models.Sender{Nickname: nickname, Level: models.LevelAnyone}
	}
	return models.Sender{Nickname: nickname, Account: account, Level: level}
}

// readPump pumps frames from the websocket connection into the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket error", "client", c.id, "error", err)
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.hub.log.Debug("malformed frame", "client", c.id, "error", err)
			continue
		}
		c.hub.handleFrame(frame)
	}
}

// writePump pumps lines from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case line, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, _ := json.Marshal(line)
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
