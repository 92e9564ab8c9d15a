package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	deckSize        = 20
	defaultFeedSize = 20
	maxFeedSize     = 100
)

const listingColumns = `l.id, l.owner_id, l.title, l.description, l.housing_category,
	l.address_line1, l.address_line2, l.city, l.state, l.postal_code, l.country,
	l.price, l.bedrooms, l.bathrooms, l.sqft, l.pets_allowed, l.furnished, l.wifi,
	l.laundry_type, l.cover_photo_url, l.photo_urls, l.latitude, l.longitude, l.created_at`

func scanListing(row rowScanner) (Listing, error) {
	var (
		l         Listing
		owner     sql.NullString
		price     sql.NullFloat64
		bedrooms  sql.NullInt64
		bathrooms sql.NullFloat64
		sqft      sql.NullInt64
		photos    []byte
		lat, lng  sql.NullFloat64
	)
	err := row.Scan(
		&l.ID, &owner, &l.Title, &l.Description, &l.HousingCategory,
		&l.AddressLine1, &l.AddressLine2, &l.City, &l.State, &l.PostalCode, &l.Country,
		&price, &bedrooms, &bathrooms, &sqft, &l.PetsAllowed, &l.Furnished, &l.Wifi,
		&l.LaundryType, &l.CoverPhotoURL, &photos, &lat, &lng, &l.CreatedAt,
	)
	if err != nil {
		return Listing{}, err
	}

	if owner.Valid {
		l.OwnerID = &owner.String
	}
	l.Price = nullFloat(price)
	l.Bathrooms = nullFloat(bathrooms)
	l.Latitude = nullFloat(lat)
	l.Longitude = nullFloat(lng)
	if bedrooms.Valid {
		v := int(bedrooms.Int64)
		l.Bedrooms = &v
	}
	if sqft.Valid {
		v := int(sqft.Int64)
		l.Sqft = &v
	}
	l.PhotoURLs = jsonStrings(photos)
	return l, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (a *App) queryListings(r *http.Request, query string, args ...any) ([]Listing, error) {
	rows, err := a.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type listingInput struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	HousingCategory string   `json:"housing_category"`
	AddressLine1    string   `json:"address_line1"`
	AddressLine2    string   `json:"address_line2"`
	City            string   `json:"city"`
	State           string   `json:"state"`
	PostalCode      string   `json:"postal_code"`
	Country         string   `json:"country"`
	Price           *float64 `json:"price"`
	Bedrooms        *int     `json:"bedrooms"`
	Bathrooms       *float64 `json:"bathrooms"`
	Sqft            *int     `json:"sqft"`
	PetsAllowed     bool     `json:"pets_allowed"`
	Furnished       bool     `json:"furnished"`
	Wifi            bool     `json:"wifi"`
	LaundryType     string   `json:"laundry_type"`
	CoverPhotoURL   string   `json:"cover_photo_url"`
	PhotoURLs       []string `json:"photo_urls"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

func (in *listingInput) clean() string {
	for _, s := range []*string{
		&in.Title, &in.Description, &in.HousingCategory, &in.AddressLine1, &in.AddressLine2,
		&in.City, &in.State, &in.PostalCode, &in.Country, &in.LaundryType, &in.CoverPhotoURL,
	} {
		*s = strings.TrimSpace(*s)
	}
	in.PhotoURLs = uniqueTrimmed(in.PhotoURLs)

	switch {
	case in.Title == "":
		return "missing_title"
	case in.Price != nil && *in.Price < 0:
		return "invalid_price"
	case in.Bedrooms != nil && *in.Bedrooms < 0:
		return "invalid_bedrooms"
	case in.Bathrooms != nil && *in.Bathrooms < 0:
		return "invalid_bathrooms"
	case in.Sqft != nil && *in.Sqft < 0:
		return "invalid_sqft"
	case (in.Latitude == nil) != (in.Longitude == nil):
		return "invalid_coordinates"
	case in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180):
		return "invalid_coordinates"
	}
	return ""
}

// POST /listings
func (a *App) createListingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var in listingInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if code := in.clean(); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}
		photos, _ := json.Marshal(in.PhotoURLs)

		l := Listing{
			ID:              uuid.NewString(),
			OwnerID:         &me,
			Title:           in.Title,
			Description:     in.Description,
			HousingCategory: in.HousingCategory,
			AddressLine1:    in.AddressLine1,
			AddressLine2:    in.AddressLine2,
			City:            in.City,
			State:           in.State,
			PostalCode:      in.PostalCode,
			Country:         in.Country,
			Price:           in.Price,
			Bedrooms:        in.Bedrooms,
			Bathrooms:       in.Bathrooms,
			Sqft:            in.Sqft,
			PetsAllowed:     in.PetsAllowed,
			Furnished:       in.Furnished,
			Wifi:            in.Wifi,
			LaundryType:     in.LaundryType,
			CoverPhotoURL:   in.CoverPhotoURL,
			PhotoURLs:       in.PhotoURLs,
			Latitude:        in.Latitude,
			Longitude:       in.Longitude,
		}

		err := a.db.QueryRowContext(r.Context(), `
			INSERT INTO listings (
				id, owner_id, title, description, housing_category,
				address_line1, address_line2, city, state, postal_code, country,
				price, bedrooms, bathrooms, sqft, pets_allowed, furnished, wifi,
				laundry_type, cover_photo_url, photo_urls, latitude, longitude
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
			RETURNING created_at
		`,
			l.ID, me, l.Title, l.Description, l.HousingCategory,
			l.AddressLine1, l.AddressLine2, l.City, l.State, l.PostalCode, l.Country,
			l.Price, l.Bedrooms, l.Bathrooms, l.Sqft, l.PetsAllowed, l.Furnished, l.Wifi,
			l.LaundryType, l.CoverPhotoURL, string(photos), l.Latitude, l.Longitude,
		).Scan(&l.CreatedAt)
		if err != nil {
			a.log.Error("creating listing", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusCreated, l)
	}
}

// GET /listings/deck            listings the viewer hasn't swiped yet
// GET /listings/deck?mode=dislikes  the viewer's passed listings, for a second look
func (a *App) deckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var query string
		switch r.URL.Query().Get("mode") {
		case "":
			query = `SELECT ` + listingColumns + `
				FROM listings l
				WHERE NOT EXISTS (
					SELECT 1 FROM listing_interactions i
					WHERE i.listing_id = l.id AND i.user_id = $1
				)
				ORDER BY l.created_at DESC
				LIMIT $2`
		case "dislikes":
			query = `SELECT ` + listingColumns + `
				FROM listings l
				JOIN listing_interactions i ON i.listing_id = l.id
				WHERE i.user_id = $1 AND i.action = 'dislike'
				ORDER BY i.created_at DESC
				LIMIT $2`
		default:
			writeError(w, http.StatusBadRequest, "invalid_mode")
			return
		}

		listings, err := a.queryListings(r, query, me, deckSize)
		if err != nil {
			a.log.Error("loading deck", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, listings)
	}
}

// GET /listings/{id}
func (a *App) getListingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_listing_id")
			return
		}

		l, err := scanListing(a.db.QueryRowContext(r.Context(),
			`SELECT `+listingColumns+` FROM listings l WHERE l.id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "listing_not_found")
			return
		} else if err != nil {
			a.log.Error("loading listing", zap.String("listing_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

type swipeRequest struct {
	Action string `json:"action"`
	Review bool   `json:"review"`
}

var (
	errListingNotFound = errors.New("listing not found")
	errAlreadySwiped   = errors.New("listing already swiped")
	errNotInReview     = errors.New("listing was not disliked")
)

// POST /listings/{id}/swipe
//
// A first swipe records the interaction. With review set the listing must
// have been disliked before, and the new action replaces the dislike.
// A like also saves the listing and may repeat; saving twice reports
// already_saved. A repeated dislike conflicts.
func (a *App) swipeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		listingID, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_listing_id")
			return
		}

		var req swipeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Action = strings.ToLower(strings.TrimSpace(req.Action))
		if req.Action != "like" && req.Action != "dislike" {
			writeError(w, http.StatusBadRequest, "invalid_action")
			return
		}

		alreadySaved := false
		err := withTx(r.Context(), a.db, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(r.Context(), `SELECT 1 FROM listings WHERE id = $1`, listingID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return errListingNotFound
			} else if err != nil {
				return err
			}

			var res sql.Result
			if req.Review {
				res, err = tx.ExecContext(r.Context(), `
					UPDATE listing_interactions
					SET action = $3, created_at = NOW()
					WHERE user_id = $1 AND listing_id = $2 AND action = 'dislike'
				`, me, listingID, req.Action)
			} else if req.Action == "like" {
				res, err = tx.ExecContext(r.Context(), `
					INSERT INTO listing_interactions (user_id, listing_id, action)
					VALUES ($1, $2, $3)
					ON CONFLICT (user_id, listing_id) DO UPDATE
					SET action = EXCLUDED.action, created_at = NOW()
				`, me, listingID, req.Action)
			} else {
				res, err = tx.ExecContext(r.Context(), `
					INSERT INTO listing_interactions (user_id, listing_id, action)
					VALUES ($1, $2, $3)
					ON CONFLICT (user_id, listing_id) DO NOTHING
				`, me, listingID, req.Action)
			}
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				if req.Review {
					return errNotInReview
				}
				return errAlreadySwiped
			}

			if req.Action != "like" {
				return nil
			}
			res, err = tx.ExecContext(r.Context(), `
				INSERT INTO likes (user_id, listing_id)
				VALUES ($1, $2)
				ON CONFLICT (user_id, listing_id) DO NOTHING
			`, me, listingID)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			alreadySaved = n == 0
			return nil
		})

		switch {
		case errors.Is(err, errListingNotFound):
			writeError(w, http.StatusNotFound, "listing_not_found")
			return
		case errors.Is(err, errAlreadySwiped):
			writeError(w, http.StatusConflict, "already_swiped")
			return
		case errors.Is(err, errNotInReview):
			writeError(w, http.StatusConflict, "not_in_review")
			return
		case err != nil:
			a.log.Error("recording swipe",
				zap.String("user_id", me), zap.String("listing_id", listingID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		listingSwipesTotal.WithLabelValues(req.Action).Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"listing_id":    listingID,
			"action":        req.Action,
			"saved":         req.Action == "like",
			"already_saved": alreadySaved,
		})
	}
}

// GET /me/likes
func (a *App) likesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		listings, err := a.queryListings(r, `
			SELECT `+listingColumns+`
			FROM likes k
			JOIN listings l ON l.id = k.listing_id
			WHERE k.user_id = $1
			ORDER BY k.created_at DESC
		`, me)
		if err != nil {
			a.log.Error("loading likes", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, listings)
	}
}

// DELETE /me/likes/{id}
func (a *App) removeLikeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		listingID, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_listing_id")
			return
		}

		res, err := a.db.ExecContext(r.Context(),
			`DELETE FROM likes WHERE user_id = $1 AND listing_id = $2`, me, listingID)
		if err != nil {
			a.log.Error("removing like", zap.String("user_id", me), zap.String("listing_id", listingID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "like_not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// FeedItem is a listing with its owner resolved.
type FeedItem struct {
	Listing
	Owner *OwnerSummary `json:"owner,omitempty"`
}

// GET /listings/feed?limit=20
func (a *App) feedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryLimit(r, defaultFeedSize, maxFeedSize)

		var before any
		if s := r.URL.Query().Get("before"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_before")
				return
			}
			before = t
		}

		listings, err := a.queryListings(r, `
			SELECT `+listingColumns+`
			FROM listings l
			WHERE ($1::timestamptz IS NULL OR l.created_at < $1)
			ORDER BY l.created_at DESC
			LIMIT $2
		`, before, limit)
		if err != nil {
			a.log.Error("loading feed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		owners := a.loadOwners(r.Context(), listings)
		items := make([]FeedItem, 0, len(listings))
		for _, l := range listings {
			item := FeedItem{Listing: l}
			if l.OwnerID != nil {
				item.Owner = owners[*l.OwnerID]
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, items)
	}
}
