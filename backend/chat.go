package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/roomly/roomly/backend/channel"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxMessageRunes   = 4000
	defaultHistory    = 50
	maxHistory        = 200
	wsReadLimit       = 1 << 20
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = 30 * time.Second
	wsWriteWait       = 10 * time.Second
	clientSendBacklog = 16
)

var errNotMember = errors.New("not a channel member")

// ChatMessage is a stored message as clients see it.
type ChatMessage struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"` // "message"
	Channel string    `json:"channel"`
	From    string    `json:"from"`
	Body    string    `json:"body"`
	Ts      time.Time `json:"ts"`
}

// clientFrame is what a websocket client sends.
type clientFrame struct {
	Type    string `json:"type"` // "message" | "typing"
	Channel string `json:"channel"`
	Body    string `json:"body,omitempty"`
}

// ServerEvent is what the server pushes to websocket clients.
type ServerEvent struct {
	Type    string `json:"type"` // "message" | "typing" | "info" | "error"
	Channel string `json:"channel,omitempty"`
	From    string `json:"from,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Client is one websocket connection. A user may hold several.
type Client struct {
	userID string
	conn   *websocket.Conn
	send   chan ServerEvent
}

// Hub tracks the live websocket connections per user.
type Hub struct {
	clientsByUser map[string]map[*Client]bool
	mu            sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clientsByUser[c.userID] == nil {
		h.clientsByUser[c.userID] = make(map[*Client]bool)
	}
	h.clientsByUser[c.userID][c] = true
}

// unregister drops the client and closes its send queue, which stops the writer.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.clientsByUser[c.userID]
	if !ok || !peers[c] {
		return
	}
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.clientsByUser, c.userID)
	}
	close(c.send)
}

func (h *Hub) sendToUser(userID string, evt ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clientsByUser[userID] {
		select {
		case c.send <- evt:
		default:
			// Drop message if user's buffer is full
		}
	}
}

func (h *Hub) sendToUsers(userIDs []string, evt ServerEvent) {
	for _, id := range userIDs {
		h.sendToUser(id, evt)
	}
}

// connections reports how many sockets a user has open.
func (h *Hub) connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID])
}

// upgrader accepts non-browser clients (no Origin header) and the configured frontends.
func (a *App) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || contains(a.origins, origin)
		},
	}
}

// GET /ws/chat?token=...
func (a *App) wsChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		conn, err := a.upgrader().Upgrade(w, r, nil)
		if err != nil {
			a.log.Warn("websocket upgrade", zap.String("user_id", me), zap.Error(err))
			return
		}

		client := &Client{
			userID: me,
			conn:   conn,
			send:   make(chan ServerEvent, clientSendBacklog),
		}
		a.hub.register(client)
		client.send <- ServerEvent{Type: "info", Data: "connected"}

		if err := a.touchLastOnline(context.Background(), me); err != nil {
			a.log.Warn("updating last_online", zap.String("user_id", me), zap.Error(err))
		}

		go client.writeLoop()
		a.readLoop(client)
	}
}

func (a *App) readLoop(c *Client) {
	defer func() {
		a.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			a.reply(c, ServerEvent{Type: "error", Data: "invalid message format"})
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch frame.Type {
		case "message":
			a.relayMessage(ctx, c, frame)
		case "typing":
			a.relayTyping(ctx, c, frame)
		default:
			a.reply(c, ServerEvent{Type: "error", Data: "unknown message type"})
		}
		cancel()
	}
}

// reply answers on the same connection only. The send queue stays open
// until readLoop returns.
func (a *App) reply(c *Client, evt ServerEvent) {
	select {
	case c.send <- evt:
	default:
	}
}

func (a *App) relayMessage(ctx context.Context, c *Client, frame clientFrame) {
	body := strings.TrimSpace(frame.Body)
	if body == "" || utf8.RuneCountInString(body) > maxMessageRunes {
		a.reply(c, ServerEvent{Type: "error", Channel: frame.Channel, Data: "invalid message body"})
		return
	}

	msg, members, err := a.saveChatMessage(ctx, frame.Channel, c.userID, body)
	if errors.Is(err, errNotMember) {
		a.reply(c, ServerEvent{Type: "error", Channel: frame.Channel, Data: "not a channel member"})
		return
	} else if err != nil {
		a.log.Error("saving chat message",
			zap.String("user_id", c.userID), zap.String("channel", frame.Channel), zap.Error(err))
		a.reply(c, ServerEvent{Type: "error", Channel: frame.Channel, Data: "cannot send message"})
		return
	}

	// Members include the sender, so the sender's other tabs update too.
	a.hub.sendToUsers(members, ServerEvent{Type: "message", Channel: msg.Channel, From: c.userID, Data: msg})
}

func (a *App) relayTyping(ctx context.Context, c *Client, frame clientFrame) {
	members, err := a.channelMembers(ctx, frame.Channel)
	if err != nil {
		a.log.Warn("loading channel members", zap.String("channel", frame.Channel), zap.Error(err))
		return
	}
	if !contains(members, c.userID) {
		a.reply(c, ServerEvent{Type: "error", Channel: frame.Channel, Data: "not a channel member"})
		return
	}
	for _, m := range members {
		if m != c.userID {
			a.hub.sendToUser(m, ServerEvent{Type: "typing", Channel: frame.Channel, From: c.userID})
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			// ping to keep the connection alive
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// saveChatMessage stores the message and returns it with the channel members.
func (a *App) saveChatMessage(ctx context.Context, key, senderID, body string) (ChatMessage, []string, error) {
	msg := ChatMessage{Type: "message", Channel: key, From: senderID, Body: body}
	var members []string

	err := withTx(ctx, a.db, func(tx *sql.Tx) error {
		var ok int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM chat_members WHERE channel_key = $1 AND user_id = $2`, key, senderID,
		).Scan(&ok)
		if errors.Is(err, sql.ErrNoRows) {
			return errNotMember
		} else if err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO chat_messages (channel_key, sender_id, body)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`, key, senderID, body).Scan(&msg.ID, &msg.Ts); err != nil {
			return err
		}

		members, err = queryMembers(ctx, tx, key)
		return err
	})
	if err != nil {
		return ChatMessage{}, nil, err
	}
	return msg, members, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMembers(ctx context.Context, q queryer, key string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE channel_key = $1 ORDER BY user_id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (a *App) channelMembers(ctx context.Context, key string) ([]string, error) {
	return queryMembers(ctx, a.db, key)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// GET /chats/{key}/messages?limit=50&before=2025-09-16T08:00:00Z
func (a *App) chatHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		key := mux.Vars(r)["key"]
		if _, ok := channel.KindOf(key); !ok || len(key) > channel.MaxKeyLength {
			writeError(w, http.StatusBadRequest, "invalid_channel")
			return
		}

		limit := queryLimit(r, defaultHistory, maxHistory)
		var before any
		if s := r.URL.Query().Get("before"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_before")
				return
			}
			before = t
		}

		members, err := a.channelMembers(r.Context(), key)
		if err != nil {
			a.log.Error("loading channel members", zap.String("channel", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !contains(members, me) {
			writeError(w, http.StatusForbidden, "not_a_member")
			return
		}

		rows, err := a.db.QueryContext(r.Context(), `
			SELECT id, sender_id, body, created_at
			FROM chat_messages
			WHERE channel_key = $1
			  AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC
			LIMIT $3
		`, key, before, limit)
		if err != nil {
			a.log.Error("loading chat history", zap.String("channel", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		msgs := make([]ChatMessage, 0, limit)
		for rows.Next() {
			m := ChatMessage{Type: "message", Channel: key}
			if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Ts); err != nil {
				a.log.Error("scanning chat message", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			msgs = append(msgs, m)
		}
		if err := rows.Err(); err != nil {
			a.log.Error("iterating chat history", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, msgs)
	}
}
