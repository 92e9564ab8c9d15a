package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roomly/roomly/backend/channel"
	"github.com/roomly/roomly/backend/streamchat"

	"github.com/lib/pq"
)

// ChatProvider is the chat backend the handlers talk to. *streamchat.Client
// satisfies it directly; localChat keeps everything in Postgres and delivers
// over /ws/chat.
type ChatProvider interface {
	Name() string
	CreateToken(userID string) (string, error)
	UpsertUser(ctx context.Context, u streamchat.User) error
	GetOrCreateChannel(ctx context.Context, channelType, id string, members []string, createdBy string) (*streamchat.Channel, error)
}

type localChat struct {
	db   *sql.DB
	sign func(userID string) (string, error)
}

func newLocalChat(db *sql.DB, sign func(userID string) (string, error)) *localChat {
	return &localChat{db: db, sign: sign}
}

func (l *localChat) Name() string { return "local" }

// CreateToken hands out a regular session token; /ws/chat accepts it as ?token=.
func (l *localChat) CreateToken(userID string) (string, error) {
	if userID == "" {
		return "", streamchat.ErrInvalidUserID
	}
	return l.sign(userID)
}

// UpsertUser has nothing to do: chat users are the rows of the users table.
func (l *localChat) UpsertUser(context.Context, streamchat.User) error { return nil }

// GetOrCreateChannel creates the channel row if needed and adds the members.
// A key shared by two member sets (see channel.Key) ends up holding both.
func (l *localChat) GetOrCreateChannel(ctx context.Context, channelType, id string, members []string, _ string) (*streamchat.Channel, error) {
	all, err := recordChannel(ctx, l.db, id, members)
	if err != nil {
		return nil, err
	}

	ch := &streamchat.Channel{ID: id, Type: channelType, CID: channelType + ":" + id, MemberCount: len(all)}
	for _, m := range all {
		ch.Members = append(ch.Members, streamchat.Member{UserID: m, Role: "channel_member"})
	}
	return ch, nil
}

// recordChannel keeps the channel and its members in Postgres so /chats and
// read markers work whichever provider carries the messages. It returns every
// member the key holds.
func recordChannel(ctx context.Context, db *sql.DB, key string, members []string) ([]string, error) {
	kind, ok := channel.KindOf(key)
	if !ok || len(key) > channel.MaxKeyLength {
		return nil, fmt.Errorf("invalid channel key %q", key)
	}

	var all []string
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_channels (key, kind) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`, key, string(kind)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_members (channel_key, user_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING
		`, key, pq.Array(members)); err != nil {
			return err
		}

		var err error
		all, err = queryMembers(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record channel %s: %w", key, err)
	}
	return all, nil
}
