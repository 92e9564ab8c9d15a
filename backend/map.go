package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roomly/roomly/backend/geocode"

	"go.uber.org/zap"
)

// Albany, NY. Used when no listing has coordinates yet.
var defaultMapCenter = geocode.Point{Lat: 42.6526, Lng: -73.7562}

const geocodeBatchSize = 50

// nearQuery reads ?lat=&lng=&radius_km=. All three or none.
func nearQuery(r *http.Request) (geocode.Point, float64, bool, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lng") == "" && q.Get("radius_km") == "" {
		return geocode.Point{}, 0, false, nil
	}
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	radius, err3 := strconv.ParseFloat(q.Get("radius_km"), 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return geocode.Point{}, 0, false, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || radius <= 0 {
		return geocode.Point{}, 0, false, errors.New("coordinates out of range")
	}
	return geocode.Point{Lat: lat, Lng: lng}, radius, true, nil
}

// GET /map/listings[?lat=&lng=&radius_km=]
func (a *App) mapListingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin, radius, near, err := nearQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_location")
			return
		}

		listings, err := a.queryListings(r, `
			SELECT `+listingColumns+`
			FROM listings l
			WHERE l.latitude IS NOT NULL AND l.longitude IS NOT NULL
			ORDER BY l.created_at DESC
		`)
		if err != nil {
			a.log.Error("loading map listings", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		if near {
			kept := listings[:0]
			for _, l := range listings {
				if geocode.DistanceKm(origin, geocode.Point{Lat: *l.Latitude, Lng: *l.Longitude}) <= radius {
					kept = append(kept, l)
				}
			}
			listings = kept
		}

		center := defaultMapCenter
		switch {
		case near:
			center = origin
		case len(listings) > 0:
			center = geocode.Point{Lat: *listings[0].Latitude, Lng: *listings[0].Longitude}
		}

		writeJSON(w, http.StatusOK, map[string]any{"center": center, "listings": listings})
	}
}

type pendingAddress struct {
	id      string
	address string
}

// POST /map/geocode fills in coordinates for listings that have none.
// Calls are spaced by the configured throttle.
func (a *App) geocodeListingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.geo == nil {
			writeError(w, http.StatusServiceUnavailable, "geocoding_unavailable")
			return
		}
		ctx := r.Context()

		rows, err := a.db.QueryContext(ctx, `
			SELECT id, address_line1, address_line2, city, state, postal_code, country
			FROM listings
			WHERE latitude IS NULL OR longitude IS NULL
			ORDER BY created_at
			LIMIT $1
		`, geocodeBatchSize)
		if err != nil {
			a.log.Error("loading listings to geocode", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		var pending []pendingAddress
		for rows.Next() {
			var id string
			parts := make([]string, 6)
			if err := rows.Scan(&id, &parts[0], &parts[1], &parts[2], &parts[3], &parts[4], &parts[5]); err != nil {
				rows.Close()
				a.log.Error("scanning listing address", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			pending = append(pending, pendingAddress{id: id, address: joinAddress(parts)})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			a.log.Error("iterating listing addresses", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		updated, failed := 0, 0
		for i, p := range pending {
			if i > 0 && a.geocodeThrottle > 0 {
				select {
				case <-ctx.Done():
					writeError(w, http.StatusServiceUnavailable, "request_cancelled")
					return
				case <-time.After(a.geocodeThrottle):
				}
			}

			if p.address == "" {
				failed++
				geocodeLookupsTotal.WithLabelValues("no_address").Inc()
				continue
			}

			pt, err := a.geo.Lookup(ctx, p.address)
			if err != nil {
				failed++
				outcome := "error"
				if errors.Is(err, geocode.ErrNoResults) {
					outcome = "not_found"
				}
				geocodeLookupsTotal.WithLabelValues(outcome).Inc()
				a.log.Warn("geocoding listing", zap.String("listing_id", p.id), zap.Error(err))
				continue
			}

			if _, err := a.db.ExecContext(ctx,
				`UPDATE listings SET latitude = $1, longitude = $2 WHERE id = $3`, pt.Lat, pt.Lng, p.id,
			); err != nil {
				failed++
				a.log.Error("storing coordinates", zap.String("listing_id", p.id), zap.Error(err))
				continue
			}
			geocodeLookupsTotal.WithLabelValues("ok").Inc()
			updated++
		}

		writeJSON(w, http.StatusOK, map[string]int{"updated": updated, "failed": failed})
	}
}

func joinAddress(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
