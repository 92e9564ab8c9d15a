package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/roomly/roomly/backend/match"

	"go.uber.org/zap"
)

const insightTimeout = 30 * time.Second

// MatchEntry is one row of the viewer's match list.
type MatchEntry struct {
	Profile Profile      `json:"profile"`
	Match   match.Result `json:"match"`
}

// onboardedViewer loads the caller's profile and writes the error response
// when the caller can't see matches yet.
func (a *App) onboardedViewer(ctx context.Context, w http.ResponseWriter, me string) (Profile, bool) {
	viewer, err := a.loadProfile(ctx, me)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !viewer.Onboarded) {
		writeError(w, http.StatusForbidden, "incomplete_profile")
		return Profile{}, false
	} else if err != nil {
		a.log.Error("loading viewer profile", zap.String("user_id", me), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error")
		return Profile{}, false
	}
	return viewer, true
}

// candidate loads an onboarded profile other than the viewer's.
func (a *App) candidate(w http.ResponseWriter, r *http.Request, me string) (Profile, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return Profile{}, false
	}
	if id == me {
		writeError(w, http.StatusBadRequest, "cannot_match_self")
		return Profile{}, false
	}

	c, err := a.loadProfile(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !c.Onboarded) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return Profile{}, false
	} else if err != nil {
		a.log.Error("loading candidate profile", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "db_error")
		return Profile{}, false
	}
	return c, true
}

// GET /matches
func (a *App) matchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		viewer, ok := a.onboardedViewer(r.Context(), w, me)
		if !ok {
			return
		}

		rows, err := a.db.QueryContext(r.Context(),
			`SELECT `+profileColumns+` FROM profiles p WHERE p.onboarded = TRUE AND p.user_id <> $1`, me)
		if err != nil {
			a.log.Error("listing candidates", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		entries := []MatchEntry{}
		for rows.Next() {
			c, err := scanProfile(rows)
			if err != nil {
				a.log.Error("scanning candidate", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			res := match.Evaluate(viewer.scoring(), c.scoring())
			matchScores.Observe(float64(res.Score))
			entries = append(entries, MatchEntry{Profile: c, Match: res})
		}
		if err := rows.Err(); err != nil {
			a.log.Error("iterating candidates", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Match.Score != entries[j].Match.Score {
				return entries[i].Match.Score > entries[j].Match.Score
			}
			return entries[i].Profile.UserID < entries[j].Profile.UserID
		})

		writeJSON(w, http.StatusOK, entries)
	}
}

// GET /matches/{id}
func (a *App) matchDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		viewer, ok := a.onboardedViewer(r.Context(), w, me)
		if !ok {
			return
		}
		c, ok := a.candidate(w, r, me)
		if !ok {
			return
		}

		b := match.Explain(viewer.scoring(), c.scoring())
		t := match.TierFor(b.Total)
		matchScores.Observe(float64(b.Total))

		writeJSON(w, http.StatusOK, map[string]any{
			"profile":   c,
			"match":     match.Result{Score: b.Total, Label: t.Label, Severity: t.Severity},
			"breakdown": b,
		})
	}
}

// GET /matches/{id}/insight
func (a *App) matchInsightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.insight == nil {
			writeError(w, http.StatusServiceUnavailable, "insight_unavailable")
			return
		}

		me := userIDFrom(r.Context())
		viewer, ok := a.onboardedViewer(r.Context(), w, me)
		if !ok {
			return
		}
		c, ok := a.candidate(w, r, me)
		if !ok {
			return
		}

		b := match.Explain(viewer.scoring(), c.scoring())
		t := match.TierFor(b.Total)

		ctx, cancel := context.WithTimeout(r.Context(), insightTimeout)
		defer cancel()
		text, err := a.insight.GenerateContent(ctx, insightPrompt(viewer, c, b, t))
		if err != nil {
			a.log.Error("generating match insight",
				zap.String("user_id", me), zap.String("candidate_id", c.UserID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "insight_failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"match":     match.Result{Score: b.Total, Label: t.Label, Severity: t.Severity},
			"breakdown": b,
			"insight":   text,
		})
	}
}
