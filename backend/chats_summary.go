package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/roomly/roomly/backend/channel"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ChatSummary is one row of the caller's inbox.
type ChatSummary struct {
	Key            string     `json:"channel_key"`
	Kind           string     `json:"kind"`
	MemberCount    int        `json:"member_count"`
	LastMessage    *string    `json:"last_message,omitempty"`
	LastSenderID   *string    `json:"last_sender_id,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	UnreadMessages int        `json:"unread_messages"`
}

// GET /chats
// Every channel the caller belongs to, with its latest message and how many
// messages from others arrived after the caller last read it.
func (a *App) chatSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		// 1) mine = channels I am in and when I last read them
		// 2) latest = newest message per channel
		// 3) unread = messages from others after last_read_at
		const q = `
WITH mine AS (
  SELECT cm.channel_key, cm.last_read_at
  FROM chat_members cm
  WHERE cm.user_id = $1
),
latest AS (
  SELECT DISTINCT ON (m.channel_key) m.channel_key, m.body, m.sender_id, m.created_at
  FROM chat_messages m
  JOIN mine ON mine.channel_key = m.channel_key
  ORDER BY m.channel_key, m.created_at DESC, m.id DESC
),
unread AS (
  SELECT m.channel_key, COUNT(*) AS unread_count
  FROM chat_messages m
  JOIN mine ON mine.channel_key = m.channel_key
  WHERE m.sender_id <> $1
    AND (mine.last_read_at IS NULL OR m.created_at > mine.last_read_at)
  GROUP BY m.channel_key
)
SELECT
  c.key,
  c.kind,
  (SELECT COUNT(*) FROM chat_members x WHERE x.channel_key = c.key) AS member_count,
  l.body,
  l.sender_id,
  l.created_at,
  COALESCE(u.unread_count, 0)
FROM mine
JOIN chat_channels c ON c.key = mine.channel_key
LEFT JOIN latest l   ON l.channel_key = c.key
LEFT JOIN unread u   ON u.channel_key = c.key
ORDER BY COALESCE(l.created_at, c.created_at) DESC, c.key ASC`

		rows, err := a.db.QueryContext(r.Context(), q, me)
		if err != nil {
			a.log.Error("querying chat summary", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		summaries := make([]ChatSummary, 0, 16)
		for rows.Next() {
			var (
				s      ChatSummary
				body   sql.NullString
				sender sql.NullString
				last   sql.NullTime
			)
			if err := rows.Scan(&s.Key, &s.Kind, &s.MemberCount, &body, &sender, &last, &s.UnreadMessages); err != nil {
				a.log.Error("scanning chat summary", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			if body.Valid {
				s.LastMessage = &body.String
			}
			if sender.Valid {
				s.LastSenderID = &sender.String
			}
			if last.Valid {
				t := last.Time
				s.LastMessageAt = &t
			}
			summaries = append(summaries, s)
		}
		if err := rows.Err(); err != nil {
			a.log.Error("iterating chat summary", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, summaries)
	}
}

// POST /chats/{key}/read
// Acknowledges everything in the channel up to now.
func (a *App) chatMarkReadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		key := mux.Vars(r)["key"]
		if _, ok := channel.KindOf(key); !ok || len(key) > channel.MaxKeyLength {
			writeError(w, http.StatusBadRequest, "invalid_channel")
			return
		}

		res, err := a.db.ExecContext(r.Context(), `
			UPDATE chat_members SET last_read_at = NOW()
			WHERE channel_key = $1 AND user_id = $2
		`, key, me)
		if err != nil {
			a.log.Error("marking chat read", zap.String("channel", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusForbidden, "not_a_member")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
