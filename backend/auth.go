package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const userIDKey ctxKey = "userID"

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
)

// userIDFrom returns the id authenticate put into the request context.
func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *credentials) normalize() {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Password = strings.TrimSpace(c.Password)
}

func (a *App) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.normalize()
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if !strings.Contains(req.Email, "@") {
			writeError(w, http.StatusBadRequest, "invalid_email")
			return
		}
		if len(req.Password) < minPasswordLength {
			writeError(w, http.StatusBadRequest, "weak_password")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			a.log.Error("hashing password", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}

		id := uuid.NewString()
		_, err = a.db.ExecContext(r.Context(),
			`INSERT INTO users (id, email, password_hash, last_online) VALUES ($1, $2, $3, NOW())`,
			id, req.Email, string(hash),
		)
		if err != nil {
			if isUniqueViolation(err) {
				writeError(w, http.StatusConflict, "email_exists")
				return
			}
			a.log.Error("saving user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "register_error")
			return
		}

		token, err := a.issueToken(id)
		if err != nil {
			a.log.Error("signing token", zap.String("user_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"token": token, "id": id})
	}
}

func (a *App) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.normalize()
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		var userID, passwordHash string
		err := a.db.QueryRowContext(r.Context(),
			`SELECT id, password_hash FROM users WHERE email = $1`, req.Email,
		).Scan(&userID, &passwordHash)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			a.log.Error("querying user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		// Don't fail login, just log the error
		if err := a.touchLastOnline(r.Context(), userID); err != nil {
			a.log.Warn("updating last_online", zap.String("user_id", userID), zap.Error(err))
		}

		token, err := a.issueToken(userID)
		if err != nil {
			a.log.Error("signing token", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"token": token, "id": userID})
	}
}

// GET /me
func (a *App) meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var email string
		var onboarded bool
		err := a.db.QueryRowContext(r.Context(), `
			SELECT u.email, COALESCE(p.onboarded, FALSE)
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			WHERE u.id = $1
		`, me).Scan(&email, &onboarded)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		} else if err != nil {
			a.log.Error("loading user", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"id": me, "email": email, "onboarded": onboarded})
	}
}

func (a *App) issueToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(tokenTTL).Unix(),
	})
	return token.SignedString(a.jwtSecret)
}

func (a *App) parseToken(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	id, _ := claims["user_id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.New("invalid user id in token")
	}
	return id, nil
}

// userIDFromRequest reads the bearer token, or ?token= for websocket clients
// since browsers can't set headers on the upgrade request.
func (a *App) userIDFromRequest(r *http.Request) (string, bool) {
	tokenStr := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenStr = strings.TrimPrefix(auth, "Bearer ")
	} else {
		tokenStr = r.URL.Query().Get("token")
	}
	if tokenStr == "" {
		return "", false
	}

	id, err := a.parseToken(tokenStr)
	if err != nil {
		a.log.Debug("rejecting token", zap.Error(err))
		return "", false
	}
	return id, true
}

func (a *App) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := a.userIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}
