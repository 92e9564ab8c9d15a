package main

import (
	"bytes"
	"context"
	"database/sql/driver"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roomly/roomly/backend/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

// captureString matches any string argument and remembers it.
type captureString struct{ v *string }

func (c captureString) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.v = s
	}
	return ok
}

func uploadRequest(t *testing.T, a *App, userID string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "me.png")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/me/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	token, err := a.issueToken(userID)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAvatarLifecycle(t *testing.T) {
	a, mock := newTestApp(t)

	oldKey := storage.AvatarKey(aliceID, "jpg")
	require.NoError(t, a.avatars.Save(context.Background(), oldKey, strings.NewReader("old"), 3, "image/jpeg"))

	var newKey string
	mock.ExpectQuery(`SELECT avatar_key FROM profiles WHERE user_id = \$1`).
		WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}).AddRow(oldKey))
	mock.ExpectExec(`UPDATE profiles SET avatar_key = \$1`).
		WithArgs(captureString{&newKey}, aliceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	a.routes().ServeHTTP(w, uploadRequest(t, a, aliceID, pngBytes))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/avatars/"+aliceID, decodeBody[map[string]any](t, w)["avatar_url"])
	assert.True(t, strings.HasPrefix(newKey, "avatars/"+aliceID+"/"), newKey)
	assert.True(t, strings.HasSuffix(newKey, ".png"), newKey)

	_, err := a.avatars.Open(context.Background(), oldKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "previous avatar is removed")

	mock.ExpectQuery(`SELECT avatar_key FROM profiles`).
		WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}).AddRow(newKey))

	w = do(t, a, http.MethodGet, "/avatars/"+aliceID, nil, bobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, w.Body.Bytes())

	mock.ExpectQuery(`SELECT avatar_key FROM profiles`).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}).AddRow(newKey))
	mock.ExpectExec(`UPDATE profiles SET avatar_key = NULL`).
		WithArgs(aliceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w = do(t, a, http.MethodDelete, "/me/avatar", nil, aliceID)
	require.Equal(t, http.StatusOK, w.Code)

	obj, err := a.avatars.Open(context.Background(), newKey)
	if err == nil {
		obj.Close()
	}
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadAvatarRejections(t *testing.T) {
	t.Run("not an image", func(t *testing.T) {
		a, _ := newTestApp(t)
		w := httptest.NewRecorder()
		a.routes().ServeHTTP(w, uploadRequest(t, a, aliceID, []byte("hello, plain text")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "only_jpeg_or_png_allowed", errorCode(t, w))
	})

	t.Run("profile missing", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`SELECT avatar_key FROM profiles`).
			WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}))

		w := httptest.NewRecorder()
		a.routes().ServeHTTP(w, uploadRequest(t, a, aliceID, pngBytes))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "profile_not_initialized", errorCode(t, w))
	})

	t.Run("no file field", func(t *testing.T) {
		a, _ := newTestApp(t)
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/me/avatar", io.NopCloser(&buf))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		token, err := a.issueToken(aliceID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		w := httptest.NewRecorder()
		a.routes().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing_file", errorCode(t, w))
	})
}

func TestGetAvatarMissing(t *testing.T) {
	a, mock := newTestApp(t)
	mock.ExpectQuery(`SELECT avatar_key FROM profiles`).
		WithArgs(bobID).
		WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}).AddRow(nil))

	w := do(t, a, http.MethodGet, "/avatars/"+bobID, nil, aliceID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "avatar_not_found", errorCode(t, w))
}
