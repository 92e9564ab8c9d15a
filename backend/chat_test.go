package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/roomly/roomly/backend/channel"
	"github.com/roomly/roomly/backend/streamchat"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChat struct {
	upserted []streamchat.User
	opened   []string
	members  [][]string
	err      error
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) APIKey() string { return "fake-key" }

func (f *fakeChat) CreateToken(userID string) (string, error) { return "tok-" + userID, nil }

func (f *fakeChat) UpsertUser(_ context.Context, u streamchat.User) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, u)
	return nil
}

func (f *fakeChat) GetOrCreateChannel(_ context.Context, channelType, id string, members []string, _ string) (*streamchat.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.opened = append(f.opened, id)
	f.members = append(f.members, members)
	return &streamchat.Channel{ID: id, Type: channelType, CID: channelType + ":" + id, MemberCount: len(members)}, nil
}

func chatUserRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "full_name", "avatar_key"})
	names := map[string]string{aliceID: "Alice", bobID: "Bob", carolID: ""}
	for _, id := range ids {
		avatar := ""
		if id == bobID {
			avatar = "avatars/bob.png"
		}
		rows.AddRow(id, names[id], avatar)
	}
	return rows
}

// expectChannelRecorded sets up the local bookkeeping openChannel does for a key.
func expectChannelRecorded(mock sqlmock.Sqlmock, key, kind string, members ...string) {
	rows := sqlmock.NewRows([]string{"user_id"})
	for _, m := range members {
		rows.AddRow(m)
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO chat_channels \(key, kind\) VALUES \(\$1, \$2\)`).
		WithArgs(key, kind).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chat_members \(channel_key, user_id\)`).
		WithArgs(key, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, int64(len(members))))
	mock.ExpectQuery(`SELECT user_id FROM chat_members WHERE channel_key = \$1 ORDER BY user_id`).
		WithArgs(key).
		WillReturnRows(rows)
	mock.ExpectCommit()
}

func TestHub(t *testing.T) {
	h := newHub()
	c1 := &Client{userID: aliceID, send: make(chan ServerEvent, 1)}
	c2 := &Client{userID: aliceID, send: make(chan ServerEvent, 1)}
	h.register(c1)
	h.register(c2)
	assert.Equal(t, 2, h.connections(aliceID))

	h.sendToUser(aliceID, ServerEvent{Type: "info"})
	assert.Equal(t, "info", (<-c1.send).Type)
	assert.Equal(t, "info", (<-c2.send).Type)

	// a full queue drops instead of blocking
	h.sendToUser(aliceID, ServerEvent{Type: "a"})
	h.sendToUser(aliceID, ServerEvent{Type: "b"})
	assert.Equal(t, "a", (<-c1.send).Type)

	h.unregister(c1)
	h.unregister(c1)
	_, open := <-c1.send
	assert.False(t, open)
	assert.Equal(t, 1, h.connections(aliceID))

	h.unregister(c2)
	assert.Equal(t, 0, h.connections(aliceID))
}

func TestChatToken(t *testing.T) {
	t.Run("local provider signs a session token", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`WHERE u.id = ANY\(\$1::uuid\[\]\)`).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(chatUserRows(aliceID))

		w := do(t, a, http.MethodPost, "/chat/token", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeBody[map[string]string](t, w)
		assert.Equal(t, "local", body["provider"])
		assert.NotContains(t, body, "api_key")
		id, err := a.parseToken(body["token"])
		require.NoError(t, err)
		assert.Equal(t, aliceID, id)
	})

	t.Run("remote provider gets the user and exposes its key", func(t *testing.T) {
		a, mock := newTestApp(t)
		fc := &fakeChat{}
		a.chat = fc
		a.publicURL = "https://api.roomly.test"
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(bobID))

		w := do(t, a, http.MethodPost, "/chat/token", nil, bobID)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody[map[string]string](t, w)
		assert.Equal(t, "tok-"+bobID, body["token"])
		assert.Equal(t, "fake-key", body["api_key"])
		require.Len(t, fc.upserted, 1)
		assert.Equal(t, streamchat.User{
			ID:    bobID,
			Name:  "Bob",
			Image: "https://api.roomly.test/avatars/" + bobID,
		}, fc.upserted[0])
	})
}

func TestEnsureChatUser(t *testing.T) {
	t.Run("unknown user", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows())

		w := do(t, a, http.MethodPost, "/chat/users/"+unknownUUID+"/ensure", nil, aliceID)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "user_not_found", errorCode(t, w))
	})

	t.Run("nameless profile falls back", func(t *testing.T) {
		a, mock := newTestApp(t)
		fc := &fakeChat{}
		a.chat = fc
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(carolID))

		w := do(t, a, http.MethodPost, "/chat/users/"+carolID+"/ensure", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, fc.upserted, 1)
		assert.Equal(t, "Roomly user", fc.upserted[0].Name)
		assert.Empty(t, fc.upserted[0].Image)
	})

	t.Run("provider failure", func(t *testing.T) {
		a, mock := newTestApp(t)
		a.chat = &fakeChat{err: errors.New("stream down")}
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(bobID))

		w := do(t, a, http.MethodPost, "/chat/users/"+bobID+"/ensure", nil, aliceID)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "chat_provider_error", errorCode(t, w))
	})
}

func TestDirectChannel(t *testing.T) {
	t.Run("same key from both sides", func(t *testing.T) {
		a, mock := newTestApp(t)
		fc := &fakeChat{}
		a.chat = fc
		key := channel.Key(channel.DM, []string{aliceID, bobID})
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID))
		expectChannelRecorded(mock, key, "dm", aliceID, bobID)
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID))
		expectChannelRecorded(mock, key, "dm", aliceID, bobID)

		w1 := do(t, a, http.MethodPost, "/chat/dm/"+bobID, nil, aliceID)
		w2 := do(t, a, http.MethodPost, "/chat/dm/"+aliceID, nil, bobID)
		require.Equal(t, http.StatusOK, w1.Code, w1.Body.String())
		require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())

		r1 := decodeBody[ChannelResponse](t, w1)
		r2 := decodeBody[ChannelResponse](t, w2)
		assert.Equal(t, r1.Key, r2.Key)
		assert.Equal(t, "dm", r1.Kind)
		assert.True(t, strings.HasPrefix(r1.Key, "dm_"))
		assert.LessOrEqual(t, len(r1.Key), channel.MaxKeyLength)
		assert.True(t, r1.Truncated, "two uuids do not fit in 64 bytes")
		assert.Equal(t, []string{aliceID, bobID}, r1.Members)
		assert.Equal(t, "messaging:"+r1.Key, r1.CID)

		require.Len(t, fc.members, 2)
		assert.Equal(t, []string{aliceID, bobID}, fc.members[0], "provider gets the full member list")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self", func(t *testing.T) {
		a, _ := newTestApp(t)
		w := do(t, a, http.MethodPost, "/chat/dm/"+aliceID, nil, aliceID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "cannot_chat_with_self", errorCode(t, w))
	})

	t.Run("local provider records the channel", func(t *testing.T) {
		a, mock := newTestApp(t)
		key := channel.Key(channel.DM, []string{aliceID, bobID})

		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID))
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO chat_channels \(key, kind\) VALUES \(\$1, \$2\)`).
			WithArgs(key, "dm").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO chat_members \(channel_key, user_id\)`).
			WithArgs(key, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectQuery(`SELECT user_id FROM chat_members WHERE channel_key = \$1 ORDER BY user_id`).
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(aliceID).AddRow(bobID))
		mock.ExpectCommit()

		w := do(t, a, http.MethodPost, "/chat/dm/"+bobID, nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decodeBody[ChannelResponse](t, w)
		assert.Equal(t, key, got.Key)
		assert.Equal(t, "local", got.Provider)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDirectChannelWithStream(t *testing.T) {
	key := channel.Key(channel.DM, []string{aliceID, bobID})

	var queried []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/users":
			_, _ = w.Write([]byte(`{"users":{}}`))
		case strings.HasPrefix(r.URL.Path, "/channels/messaging/"):
			queried = append(queried, r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"channel": map[string]any{"id": key, "type": "messaging", "cid": "messaging:" + key, "member_count": 2},
				"members": []map[string]any{{"user_id": aliceID}, {"user_id": bobID}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	stream, err := streamchat.New(streamchat.Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	t.Run("channel is recorded for /chats", func(t *testing.T) {
		a, mock := newTestApp(t)
		a.chat = stream
		queried = nil

		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID))
		expectChannelRecorded(mock, key, "dm", aliceID, bobID)

		w := do(t, a, http.MethodPost, "/chat/dm/"+bobID, nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		got := decodeBody[ChannelResponse](t, w)
		assert.Equal(t, "stream", got.Provider)
		assert.Equal(t, "messaging:"+key, got.CID)
		assert.Equal(t, []string{"/channels/messaging/" + key + "/query"}, queried)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recording failure", func(t *testing.T) {
		a, mock := newTestApp(t)
		a.chat = stream

		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID))
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO chat_channels`).WillReturnError(errors.New("db down"))
		mock.ExpectRollback()

		w := do(t, a, http.MethodPost, "/chat/dm/"+bobID, nil, aliceID)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "db_error", errorCode(t, w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGroupChannel(t *testing.T) {
	t.Run("caller joins the group", func(t *testing.T) {
		a, mock := newTestApp(t)
		fc := &fakeChat{}
		a.chat = fc
		mock.ExpectQuery(`FROM users u`).WillReturnRows(chatUserRows(aliceID, bobID, carolID))
		expectChannelRecorded(mock, channel.Key(channel.Group, []string{aliceID, bobID, carolID}), "group",
			aliceID, bobID, carolID)

		w := do(t, a, http.MethodPost, "/chat/groups",
			map[string]any{"member_ids": []string{carolID, bobID, bobID}}, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		got := decodeBody[ChannelResponse](t, w)
		assert.Equal(t, "group", got.Kind)
		assert.Equal(t, []string{aliceID, bobID, carolID}, got.Members)
		assert.Equal(t, channel.Key(channel.Group, []string{bobID, carolID, aliceID}), got.Key)
		assert.Len(t, fc.upserted, 3)
	})

	tests := []struct {
		name    string
		members []string
		code    string
	}{
		{"too small", []string{bobID, aliceID}, "group_too_small"},
		{"bad id", []string{bobID, "nope"}, "invalid_user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t)
			w := do(t, a, http.MethodPost, "/chat/groups", map[string]any{"member_ids": tt.members}, aliceID)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}

	t.Run("too large", func(t *testing.T) {
		a, _ := newTestApp(t)
		ids := make([]string, 0, maxGroupMembers)
		for i := 0; i < maxGroupMembers; i++ {
			ids = append(ids, testUUID(i))
		}
		w := do(t, a, http.MethodPost, "/chat/groups", map[string]any{"member_ids": ids}, aliceID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "group_too_large", errorCode(t, w))
	})
}

func testUUID(i int) string {
	const hex = "0123456789abcdef"
	return "00000000-0000-4000-8000-0000000000" + string(hex[i/16]) + string(hex[i%16])
}

func TestChatHistory(t *testing.T) {
	key := channel.Key(channel.DM, []string{aliceID, bobID})

	t.Run("members read newest first", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`SELECT user_id FROM chat_members`).
			WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(aliceID).AddRow(bobID))
		mock.ExpectQuery(`FROM chat_messages`).
			WithArgs(key, nil, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "body", "created_at"}).
				AddRow(int64(2), bobID, "hi!", listedAt.Add(time.Minute)).
				AddRow(int64(1), aliceID, "hello", listedAt))

		w := do(t, a, http.MethodGet, "/chats/"+key+"/messages?limit=2", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		msgs := decodeBody[[]ChatMessage](t, w)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(2), msgs[0].ID)
		assert.Equal(t, key, msgs[0].Channel)
		assert.Equal(t, "message", msgs[1].Type)
	})

	t.Run("outsiders are refused", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`SELECT user_id FROM chat_members`).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(aliceID).AddRow(bobID))

		w := do(t, a, http.MethodGet, "/chats/"+key+"/messages", nil, carolID)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_a_member", errorCode(t, w))
	})

	t.Run("bad key", func(t *testing.T) {
		a, _ := newTestApp(t)
		w := do(t, a, http.MethodGet, "/chats/room_1/messages", nil, aliceID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_channel", errorCode(t, w))
	})
}

func TestChatSummary(t *testing.T) {
	a, mock := newTestApp(t)
	key := channel.Key(channel.DM, []string{aliceID, bobID})
	cols := []string{"key", "kind", "member_count", "body", "sender_id", "created_at", "unread"}
	mock.ExpectQuery(`WITH mine AS`).
		WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(key, "dm", 2, "see you", bobID, listedAt, 3).
			AddRow("group_x", "group", 3, nil, nil, nil, 0))

	w := do(t, a, http.MethodGet, "/chats", nil, aliceID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[[]ChatSummary](t, w)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "see you", *got[0].LastMessage)
	assert.Equal(t, 3, got[0].UnreadMessages)
	assert.Nil(t, got[1].LastMessageAt)
	assert.Equal(t, 3, got[1].MemberCount)
}

func TestChatMarkRead(t *testing.T) {
	key := channel.Key(channel.DM, []string{aliceID, bobID})

	t.Run("member", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectExec(`UPDATE chat_members SET last_read_at = NOW\(\)`).
			WithArgs(key, aliceID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := do(t, a, http.MethodPost, "/chats/"+key+"/read", nil, aliceID)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("not a member", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectExec(`UPDATE chat_members`).WillReturnResult(sqlmock.NewResult(0, 0))

		w := do(t, a, http.MethodPost, "/chats/"+key+"/read", nil, carolID)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
