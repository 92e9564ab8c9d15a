package main

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var resourceCategories = map[string]bool{
	"volunteering": true,
	"jobs":         true,
	"events":       true,
	"housing":      true,
	"other":        true,
}

const resourceColumns = `id, title, description, category, location, date, link, posted_by, created_at`

func scanResource(row rowScanner) (Resource, error) {
	var (
		res      Resource
		date     sql.NullTime
		postedBy sql.NullString
	)
	if err := row.Scan(&res.ID, &res.Title, &res.Description, &res.Category, &res.Location,
		&date, &res.Link, &postedBy, &res.CreatedAt); err != nil {
		return Resource{}, err
	}
	if date.Valid {
		d := date.Time
		res.Date = &d
	}
	if postedBy.Valid {
		res.PostedBy = &postedBy.String
	}
	return res, nil
}

// GET /resources?category=jobs
func (a *App) listResourcesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category")))
		if category != "" && !resourceCategories[category] {
			writeError(w, http.StatusBadRequest, "invalid_category")
			return
		}

		rows, err := a.db.QueryContext(r.Context(), `
			SELECT `+resourceColumns+`
			FROM resources
			WHERE ($1 = '' OR category = $1)
			ORDER BY created_at DESC
		`, category)
		if err != nil {
			a.log.Error("listing resources", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		out := []Resource{}
		for rows.Next() {
			res, err := scanResource(rows)
			if err != nil {
				a.log.Error("scanning resource", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			out = append(out, res)
		}
		if err := rows.Err(); err != nil {
			a.log.Error("iterating resources", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /resources/{id}
func (a *App) getResourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_resource_id")
			return
		}
		res, err := scanResource(a.db.QueryRowContext(r.Context(),
			`SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "resource_not_found")
			return
		} else if err != nil {
			a.log.Error("loading resource", zap.String("resource_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type resourceInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Date        string `json:"date"` // YYYY-MM-DD
	Link        string `json:"link"`
}

// POST /resources
func (a *App) createResourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var in resourceInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		in.Title = strings.TrimSpace(in.Title)
		in.Category = strings.ToLower(strings.TrimSpace(in.Category))
		if in.Title == "" {
			writeError(w, http.StatusBadRequest, "missing_title")
			return
		}
		if !resourceCategories[in.Category] {
			writeError(w, http.StatusBadRequest, "invalid_category")
			return
		}

		res := Resource{
			ID:          uuid.NewString(),
			Title:       in.Title,
			Description: strings.TrimSpace(in.Description),
			Category:    in.Category,
			Location:    strings.TrimSpace(in.Location),
			Link:        strings.TrimSpace(in.Link),
			PostedBy:    &me,
		}
		if s := strings.TrimSpace(in.Date); s != "" {
			d, err := time.Parse(time.DateOnly, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date")
				return
			}
			res.Date = &d
		}

		err := a.db.QueryRowContext(r.Context(), `
			INSERT INTO resources (id, title, description, category, location, date, link, posted_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, res.ID, res.Title, res.Description, res.Category, res.Location, res.Date, res.Link, me,
		).Scan(&res.CreatedAt)
		if err != nil {
			a.log.Error("creating resource", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
