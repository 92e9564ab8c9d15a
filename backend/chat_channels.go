package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/roomly/roomly/backend/channel"
	"github.com/roomly/roomly/backend/streamchat"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxGroupMembers = 20

// ChannelResponse is what the dm and group endpoints return.
type ChannelResponse struct {
	Key       string   `json:"channel_key"`
	Kind      string   `json:"kind"`
	CID       string   `json:"cid"`
	Provider  string   `json:"provider"`
	Members   []string `json:"members"`
	Truncated bool     `json:"truncated,omitempty"`
}

// chatUsers loads chat identities for the given ids. Unknown ids are left out.
func (a *App) chatUsers(ctx context.Context, ids []string) (map[string]streamchat.User, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT u.id, COALESCE(p.full_name, ''), COALESCE(p.avatar_key, '')
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = ANY($1::uuid[])
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]streamchat.User, len(ids))
	for rows.Next() {
		var id, name, avatarKey string
		if err := rows.Scan(&id, &name, &avatarKey); err != nil {
			return nil, err
		}
		u := streamchat.User{ID: id, Name: Profile{FullName: name}.DisplayName()}
		if avatarKey != "" {
			u.Image = a.publicURL + avatarURL(id)
		}
		out[id] = u
	}
	return out, rows.Err()
}

// ensureChatUsers registers every id with the chat provider. It reports false
// after writing the response when something is missing or failed.
func (a *App) ensureChatUsers(w http.ResponseWriter, r *http.Request, ids []string) bool {
	users, err := a.chatUsers(r.Context(), ids)
	if err != nil {
		a.log.Error("loading chat users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error")
		return false
	}
	if len(users) != len(ids) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return false
	}

	for _, id := range ids {
		if err := a.chat.UpsertUser(r.Context(), users[id]); err != nil {
			a.log.Error("upserting chat user",
				zap.String("provider", a.chat.Name()), zap.String("user_id", id), zap.Error(err))
			writeError(w, http.StatusBadGateway, "chat_provider_error")
			return false
		}
	}
	return true
}

// openChannel derives the channel key for members and asks the provider for it.
// Remote channels are recorded locally too, so /chats lists them.
func (a *App) openChannel(w http.ResponseWriter, r *http.Request, kind channel.Kind, members []string) {
	me := userIDFrom(r.Context())
	members = channel.Members(members)
	key := channel.Key(kind, members)

	truncated := channel.Truncated(kind, members)
	if truncated {
		a.log.Warn("channel key truncated",
			zap.String("channel", key), zap.Int("members", len(members)))
	}

	ch, err := a.chat.GetOrCreateChannel(r.Context(), streamchat.MessagingType, key, members, me)
	if err != nil {
		a.log.Error("opening channel",
			zap.String("provider", a.chat.Name()), zap.String("channel", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "chat_provider_error")
		return
	}
	if _, local := a.chat.(*localChat); !local {
		if _, err := recordChannel(r.Context(), a.db, key, members); err != nil {
			a.log.Error("recording channel",
				zap.String("provider", a.chat.Name()), zap.String("channel", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	chatChannelsTotal.WithLabelValues(string(kind), strconv.FormatBool(truncated)).Inc()

	writeJSON(w, http.StatusOK, ChannelResponse{
		Key:       key,
		Kind:      string(kind),
		CID:       ch.CID,
		Provider:  a.chat.Name(),
		Members:   members,
		Truncated: truncated,
	})
}

// POST /chat/token
func (a *App) chatTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		if !a.ensureChatUsers(w, r, []string{me}) {
			return
		}

		token, err := a.chat.CreateToken(me)
		if err != nil {
			a.log.Error("creating chat token", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_error")
			return
		}

		resp := map[string]string{
			"token":    token,
			"provider": a.chat.Name(),
			"user_id":  me,
		}
		if k, ok := a.chat.(interface{ APIKey() string }); ok {
			resp["api_key"] = k.APIKey()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// POST /chat/users/{id}/ensure
func (a *App) ensureChatUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}
		if !a.ensureChatUsers(w, r, []string{id}) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_id": id, "provider": a.chat.Name()})
	}
}

// POST /chat/dm/{id}
func (a *App) directChannelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		other, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}
		if other == me {
			writeError(w, http.StatusBadRequest, "cannot_chat_with_self")
			return
		}

		members := channel.Members([]string{me, other})
		if !a.ensureChatUsers(w, r, members) {
			return
		}
		a.openChannel(w, r, channel.DM, members)
	}
}

type groupInput struct {
	MemberIDs []string `json:"member_ids"`
}

// POST /chat/groups {"member_ids": [...]}. The caller is always a member.
func (a *App) groupChannelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var in groupInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		ids := make([]string, 0, len(in.MemberIDs)+1)
		ids = append(ids, me)
		for _, raw := range in.MemberIDs {
			u, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_user_id")
				return
			}
			ids = append(ids, u.String())
		}

		members := channel.Members(ids)
		switch {
		case len(members) < 3:
			writeError(w, http.StatusBadRequest, "group_too_small")
			return
		case len(members) > maxGroupMembers:
			writeError(w, http.StatusBadRequest, "group_too_large")
			return
		}

		if !a.ensureChatUsers(w, r, members) {
			return
		}
		a.openChannel(w, r, channel.Group, members)
	}
}
