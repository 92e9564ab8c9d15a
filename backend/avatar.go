package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/roomly/roomly/backend/storage"

	"go.uber.org/zap"
)

const maxAvatarBytes = 3 << 20

var avatarTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

var avatarContentTypes = map[string]string{
	".jpg": "image/jpeg",
	".png": "image/png",
}

// currentAvatarKey returns sql.ErrNoRows when the profile row doesn't exist.
func (a *App) currentAvatarKey(ctx context.Context, userID string) (string, error) {
	var key sql.NullString
	err := a.db.QueryRowContext(ctx, `SELECT avatar_key FROM profiles WHERE user_id = $1`, userID).Scan(&key)
	if err != nil {
		return "", err
	}
	return key.String, nil
}

// POST /me/avatar  (multipart form, field name: "file")
func (a *App) uploadAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes+(64<<10))
		if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()
		if header.Size > maxAvatarBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}

		// Sniff MIME from the first bytes
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ctype := http.DetectContentType(head[:n])
		ext, ok := avatarTypes[ctype]
		if !ok {
			writeError(w, http.StatusBadRequest, "only_jpeg_or_png_allowed")
			return
		}

		oldKey, err := a.currentAvatarKey(r.Context(), me)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusConflict, "profile_not_initialized")
			return
		} else if err != nil {
			a.log.Error("loading avatar key", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		key := storage.AvatarKey(me, ext)
		body := io.MultiReader(bytes.NewReader(head[:n]), f)
		if err := a.avatars.Save(r.Context(), key, body, header.Size, ctype); err != nil {
			a.log.Error("saving avatar", zap.String("user_id", me), zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		if _, err := a.db.ExecContext(r.Context(),
			`UPDATE profiles SET avatar_key = $1, updated_at = NOW() WHERE user_id = $2`, key, me,
		); err != nil {
			a.log.Error("storing avatar key", zap.String("user_id", me), zap.Error(err))
			_ = a.avatars.Remove(r.Context(), key)
			writeError(w, http.StatusInternalServerError, "db_update_failed")
			return
		}

		if oldKey != "" {
			if err := a.avatars.Remove(r.Context(), oldKey); err != nil {
				a.log.Warn("removing previous avatar", zap.String("key", oldKey), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "avatar_url": avatarURL(me)})
	}
}

// DELETE /me/avatar
func (a *App) removeAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		key, err := a.currentAvatarKey(r.Context(), me)
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		} else if err != nil {
			a.log.Error("loading avatar key", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if key == "" {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}

		if _, err := a.db.ExecContext(r.Context(),
			`UPDATE profiles SET avatar_key = NULL, updated_at = NOW() WHERE user_id = $1`, me,
		); err != nil {
			a.log.Error("clearing avatar key", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "remove_failed")
			return
		}
		if err := a.avatars.Remove(r.Context(), key); err != nil {
			a.log.Warn("removing avatar object", zap.String("key", key), zap.Error(err))
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// GET /avatars/{id}
func (a *App) getAvatarHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}

		key, err := a.currentAvatarKey(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && key == "") {
			writeError(w, http.StatusNotFound, "avatar_not_found")
			return
		} else if err != nil {
			a.log.Error("loading avatar key", zap.String("user_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		obj, err := a.avatars.Open(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "avatar_not_found")
			return
		} else if err != nil {
			a.log.Error("opening avatar", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "read_failed")
			return
		}
		defer obj.Close()

		ctype := avatarContentTypes[path.Ext(key)]
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ctype)
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, obj); err != nil {
			a.log.Debug("streaming avatar", zap.String("key", key), zap.Error(err))
		}
	}
}
