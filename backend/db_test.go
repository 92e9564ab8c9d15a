package main

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/roomly/roomly/backend/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	raw, err := fs.ReadFile(migrations.Migrations, "00001_init.sql")
	require.NoError(t, err)

	sql := string(raw)
	assert.Contains(t, sql, "-- +goose Up")
	assert.Contains(t, sql, "-- +goose Down")
	for _, table := range []string{"users", "profiles", "listings", "listing_interactions", "likes", "resources", "chat_channels", "chat_members", "chat_messages"} {
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	assert.Contains(t, sql, "VARCHAR(64)")
}

func TestMigrateUnknownDirection(t *testing.T) {
	a, mock := newTestApp(t)
	err := migrate(context.Background(), a.db, "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
	assert.NoError(t, mock.ExpectationsWereMet())
}
