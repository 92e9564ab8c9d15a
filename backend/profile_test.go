package main

import (
	"database/sql/driver"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileColumnNames = []string{
	"user_id", "full_name", "age", "user_type", "university", "major",
	"year", "occupation", "bio", "budget", "interests", "sleep_habit",
	"cleanliness_habit", "social_level", "avatar_key", "onboarded",
}

type testProfile struct {
	id        string
	name      string
	budget    any
	interests string
	sleep     string
	clean     string
	social    string
	avatarKey any
	onboarded bool
}

func (p testProfile) values() []driver.Value {
	interests := p.interests
	if interests == "" {
		interests = "[]"
	}
	return []driver.Value{
		p.id, p.name, int64(22), "student", "SUNY Albany", "CS",
		"3", "", "", p.budget, []byte(interests), p.sleep,
		p.clean, p.social, p.avatarKey, p.onboarded,
	}
}

func profileRows(profiles ...testProfile) *sqlmock.Rows {
	rows := sqlmock.NewRows(profileColumnNames)
	for _, p := range profiles {
		rows.AddRow(p.values()...)
	}
	return rows
}

var (
	aliceProfile = testProfile{
		id: aliceID, name: "Alice", budget: 1000.0, interests: `["hiking","chess"]`,
		sleep: "early", clean: "tidy", social: "quiet", onboarded: true,
	}
	bobProfile = testProfile{
		id: bobID, name: "Bob", budget: 1000.0, interests: `["hiking","gaming"]`,
		sleep: "early", clean: "tidy", social: "quiet", onboarded: true,
	}
	carolProfile = testProfile{
		id: carolID, name: "Carol", budget: 3000.0, interests: `["opera"]`,
		sleep: "late", clean: "messy", social: "party", onboarded: true,
	}
)

func TestGetMyProfile(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		a, mock := newTestApp(t)
		p := aliceProfile
		p.avatarKey = "avatars/" + aliceID + "/a.png"
		mock.ExpectQuery(`FROM profiles p WHERE p.user_id = \$1`).
			WithArgs(aliceID).
			WillReturnRows(profileRows(p))

		w := do(t, a, http.MethodGet, "/me/profile", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)

		got := decodeBody[Profile](t, w)
		assert.Equal(t, "Alice", got.FullName)
		assert.Equal(t, []string{"hiking", "chess"}, got.Interests)
		assert.Equal(t, "/avatars/"+aliceID, got.AvatarURL)
		require.NotNil(t, got.Budget)
		assert.Equal(t, 1000.0, *got.Budget)
	})

	t.Run("not onboarded yet", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM profiles p`).WillReturnRows(profileRows())

		w := do(t, a, http.MethodGet, "/me/profile", nil, aliceID)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "profile_not_found", errorCode(t, w))
	})
}

func TestPutMyProfile(t *testing.T) {
	t.Run("upserts and marks onboarded", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`INSERT INTO profiles`).
			WithArgs(aliceID, "Alice", 22, "student", "", "", "", "", "", 900.0,
				`["hiking","chess"]`, "early", "tidy", "quiet").
			WillReturnRows(sqlmock.NewRows([]string{"avatar_key"}).AddRow(nil))

		w := do(t, a, http.MethodPut, "/me/profile", map[string]any{
			"full_name":         " Alice ",
			"age":               22,
			"user_type":         "Student",
			"budget":            900,
			"interests":         []string{"hiking", " chess", "hiking", ""},
			"sleep_habit":       "early",
			"cleanliness_habit": "tidy",
			"social_level":      "quiet",
		}, aliceID)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		got := decodeBody[Profile](t, w)
		assert.True(t, got.Onboarded)
		assert.Equal(t, "Alice", got.FullName)
		assert.Equal(t, []string{"hiking", "chess"}, got.Interests)
		assert.Empty(t, got.AvatarURL)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"negative age", map[string]any{"age": -1}, "invalid_age"},
		{"negative budget", map[string]any{"budget": -5}, "invalid_budget"},
		{"unknown user type", map[string]any{"user_type": "alien"}, "invalid_user_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mock := newTestApp(t)
			w := do(t, a, http.MethodPut, "/me/profile", tt.body, aliceID)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPublicProfile(t *testing.T) {
	t.Run("onboarded user with presence", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM profiles p WHERE p.user_id = \$1`).
			WithArgs(bobID).
			WillReturnRows(profileRows(bobProfile))
		mock.ExpectQuery(`SELECT COALESCE\(last_online > NOW\(\) - \$2::interval, FALSE\)`).
			WithArgs(bobID, onlineWindow).
			WillReturnRows(sqlmock.NewRows([]string{"online"}).AddRow(true))

		w := do(t, a, http.MethodGet, "/users/"+bobID+"/profile", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody[struct {
			Profile Profile `json:"profile"`
			Online  bool    `json:"online"`
		}](t, w)
		assert.Equal(t, "Bob", body.Profile.FullName)
		assert.True(t, body.Online)
	})

	t.Run("open chat socket is online", func(t *testing.T) {
		a, mock := newTestApp(t)
		c := &Client{userID: bobID, send: make(chan ServerEvent, 1)}
		a.hub.register(c)
		defer a.hub.unregister(c)
		mock.ExpectQuery(`FROM profiles p`).WillReturnRows(profileRows(bobProfile))

		w := do(t, a, http.MethodGet, "/users/"+bobID+"/profile", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeBody[map[string]any](t, w)["online"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("presence failure reads as offline", func(t *testing.T) {
		a, mock := newTestApp(t)
		mock.ExpectQuery(`FROM profiles p`).WillReturnRows(profileRows(bobProfile))
		mock.ExpectQuery(`last_online`).WillReturnError(errors.New("db down"))

		w := do(t, a, http.MethodGet, "/users/"+bobID+"/profile", nil, aliceID)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeBody[map[string]any](t, w)["online"])
	})

	t.Run("not onboarded is hidden", func(t *testing.T) {
		a, mock := newTestApp(t)
		p := bobProfile
		p.onboarded = false
		mock.ExpectQuery(`FROM profiles p`).WillReturnRows(profileRows(p))

		w := do(t, a, http.MethodGet, "/users/"+bobID+"/profile", nil, aliceID)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "user_not_found", errorCode(t, w))
	})

	t.Run("bad id", func(t *testing.T) {
		a, _ := newTestApp(t)
		w := do(t, a, http.MethodGet, "/users/42/profile", nil, aliceID)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_user_id", errorCode(t, w))
	})
}

func TestProfileDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", Profile{FullName: "Alice"}.DisplayName())
	assert.Equal(t, "Roomly user", Profile{}.DisplayName())
}
