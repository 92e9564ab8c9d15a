package main

import (
	"context"
	"database/sql"
	"errors"
)

const onlineWindow = "90 seconds"

func (a *App) touchLastOnline(ctx context.Context, userID string) error {
	_, err := a.db.ExecContext(ctx, `UPDATE users SET last_online = NOW() WHERE id = $1`, userID)
	return err
}

func (a *App) isOnlineNow(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := a.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_online > NOW() - $2::interval, FALSE)
		FROM users
		WHERE id = $1
	`, userID, onlineWindow).Scan(&online)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return online, err
}
