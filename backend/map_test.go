package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/roomly/roomly/backend/geocode"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	points map[string]geocode.Point
	calls  []string
}

func (f *fakeGeocoder) Lookup(_ context.Context, address string) (geocode.Point, error) {
	f.calls = append(f.calls, address)
	p, ok := f.points[address]
	if !ok {
		return geocode.Point{}, geocode.ErrNoResults
	}
	return p, nil
}

type mapResponse struct {
	Center   geocode.Point `json:"center"`
	Listings []Listing     `json:"listings"`
}

func TestMapListings(t *testing.T) {
	const otherID = "66666666-6666-4666-8666-666666666666"

	t.Run("centers on the newest pin", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`WHERE l.latitude IS NOT NULL AND l.longitude IS NOT NULL`).
			WillReturnRows(listingRows(listingRow(listingID, nil, 42.68, -73.82)))

		w := do(t, a, http.MethodGet, "/map/listings", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[mapResponse](t, w)
		assert.Equal(t, geocode.Point{Lat: 42.68, Lng: -73.82}, got.Center)
		assert.Len(t, got.Listings, 1)
	})

	t.Run("falls back to albany", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM listings l`).WillReturnRows(listingRows())

		w := do(t, a, http.MethodGet, "/map/listings", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[mapResponse](t, w)
		assert.Equal(t, defaultMapCenter, got.Center)
		assert.Empty(t, got.Listings)
	})

	t.Run("radius filter", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM listings l`).WillReturnRows(listingRows(
			listingRow(listingID, nil, 42.68, -73.82),
			listingRow(otherID, nil, 40.71, -74.00),
		))

		w := do(t, a, http.MethodGet, "/map/listings?lat=42.65&lng=-73.75&radius_km=25", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decodeBody[mapResponse](t, w)
		assert.Equal(t, geocode.Point{Lat: 42.65, Lng: -73.75}, got.Center)
		require.Len(t, got.Listings, 1)
		assert.Equal(t, listingID, got.Listings[0].ID)
	})

	for _, q := range []string{"?lat=42", "?lat=x&lng=1&radius_km=1", "?lat=95&lng=0&radius_km=1", "?lat=1&lng=1&radius_km=0"} {
		t.Run("bad location "+q, func(t *testing.T) {
			a, _ := newTestApp(t)
			w := do(t, a, http.MethodGet, "/map/listings"+q, nil, aliceID)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_location", errorCode(t, w))
		})
	}
}

func TestGeocodeListings(t *testing.T) {
	t.Run("unavailable without a geocoder", func(t *testing.T) {
		a, _ := newTestApp(t)
		w := do(t, a, http.MethodPost, "/map/geocode", nil, aliceID)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "geocoding_unavailable", errorCode(t, w))
	})

	t.Run("stores what resolves", func(t *testing.T) {
		a, mock := newTestApp(t)
		geo := &fakeGeocoder{points: map[string]geocode.Point{
			"1400 Washington Ave, Albany, NY, 12222, US": {Lat: 42.686, Lng: -73.823},
		}}
		a.geo = geo

		cols := []string{"id", "address_line1", "address_line2", "city", "state", "postal_code", "country"}
		mock.ExpectQuery(`WHERE latitude IS NULL OR longitude IS NULL`).
			WithArgs(geocodeBatchSize).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(listingID, "1400 Washington Ave", " ", "Albany", "NY", "12222", "US").
				AddRow(bobID, "", "", "", "", "", "").
				AddRow(carolID, "Nowhere 1", "", "", "", "", ""))
		mock.ExpectExec(`UPDATE listings SET latitude = \$1, longitude = \$2 WHERE id = \$3`).
			WithArgs(42.686, -73.823, listingID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := do(t, a, http.MethodPost, "/map/geocode", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, map[string]int{"updated": 1, "failed": 2}, decodeBody[map[string]int](t, w))
		assert.Equal(t, []string{"1400 Washington Ave, Albany, NY, 12222, US", "Nowhere 1"}, geo.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJoinAddress(t *testing.T) {
	assert.Equal(t, "a, c", joinAddress([]string{" a ", "", "c", "  "}))
	assert.Equal(t, "", joinAddress(nil))
}
