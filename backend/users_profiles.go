package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const profileColumns = `p.user_id, p.full_name, p.age, p.user_type, p.university, p.major,
	p.year, p.occupation, p.bio, p.budget, p.interests, p.sleep_habit,
	p.cleanliness_habit, p.social_level, p.avatar_key, p.onboarded`

var userTypes = map[string]bool{"student": true, "professional": true}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var (
		p         Profile
		age       sql.NullInt64
		budget    sql.NullFloat64
		interests []byte
		avatarKey sql.NullString
	)
	err := row.Scan(
		&p.UserID, &p.FullName, &age, &p.UserType, &p.University, &p.Major,
		&p.Year, &p.Occupation, &p.Bio, &budget, &interests, &p.SleepHabit,
		&p.CleanlinessHabit, &p.SocialLevel, &avatarKey, &p.Onboarded,
	)
	if err != nil {
		return Profile{}, err
	}

	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if budget.Valid {
		v := budget.Float64
		p.Budget = &v
	}
	p.Interests = jsonStrings(interests)
	if avatarKey.Valid && avatarKey.String != "" {
		p.avatarKey = avatarKey.String
		p.AvatarURL = avatarURL(p.UserID)
	}
	return p, nil
}

// loadProfile returns sql.ErrNoRows when the user never started onboarding.
func (a *App) loadProfile(ctx context.Context, userID string) (Profile, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.user_id = $1`, userID)
	return scanProfile(row)
}

// GET /me/profile
func (a *App) getMyProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		p, err := a.loadProfile(r.Context(), me)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		} else if err != nil {
			a.log.Error("loading profile", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type profileInput struct {
	FullName         string   `json:"full_name"`
	Age              *int     `json:"age"`
	UserType         string   `json:"user_type"`
	University       string   `json:"university"`
	Major            string   `json:"major"`
	Year             string   `json:"year"`
	Occupation       string   `json:"occupation"`
	Bio              string   `json:"bio"`
	Budget           *float64 `json:"budget"`
	Interests        []string `json:"interests"`
	SleepHabit       string   `json:"sleep_habit"`
	CleanlinessHabit string   `json:"cleanliness_habit"`
	SocialLevel      string   `json:"social_level"`
}

// clean trims every field and returns an error code when something is out of range.
func (in *profileInput) clean() string {
	for _, s := range []*string{
		&in.FullName, &in.University, &in.Major, &in.Year, &in.Occupation,
		&in.Bio, &in.SleepHabit, &in.CleanlinessHabit, &in.SocialLevel,
	} {
		*s = strings.TrimSpace(*s)
	}
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))
	in.Interests = uniqueTrimmed(in.Interests)

	if in.Age != nil && (*in.Age < 0 || *in.Age > 120) {
		return "invalid_age"
	}
	if in.Budget != nil && *in.Budget < 0 {
		return "invalid_budget"
	}
	if in.UserType != "" && !userTypes[in.UserType] {
		return "invalid_user_type"
	}
	return ""
}

func uniqueTrimmed(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// PUT /me/profile completes onboarding, or edits the profile afterwards.
func (a *App) putMyProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var in profileInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if code := in.clean(); code != "" {
			writeError(w, http.StatusBadRequest, code)
			return
		}

		interests, err := json.Marshal(in.Interests)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_interests")
			return
		}

		var avatarKey sql.NullString
		err = a.db.QueryRowContext(r.Context(), `
			INSERT INTO profiles (
				user_id, full_name, age, user_type, university, major, year, occupation,
				bio, budget, interests, sleep_habit, cleanliness_habit, social_level,
				onboarded, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				full_name = EXCLUDED.full_name,
				age = EXCLUDED.age,
				user_type = EXCLUDED.user_type,
				university = EXCLUDED.university,
				major = EXCLUDED.major,
				year = EXCLUDED.year,
				occupation = EXCLUDED.occupation,
				bio = EXCLUDED.bio,
				budget = EXCLUDED.budget,
				interests = EXCLUDED.interests,
				sleep_habit = EXCLUDED.sleep_habit,
				cleanliness_habit = EXCLUDED.cleanliness_habit,
				social_level = EXCLUDED.social_level,
				onboarded = TRUE,
				updated_at = NOW()
			RETURNING avatar_key
		`,
			me, in.FullName, in.Age, in.UserType, in.University, in.Major, in.Year, in.Occupation,
			in.Bio, in.Budget, string(interests), in.SleepHabit, in.CleanlinessHabit, in.SocialLevel,
		).Scan(&avatarKey)
		if err != nil {
			a.log.Error("saving profile", zap.String("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		p := Profile{
			UserID:           me,
			FullName:         in.FullName,
			Age:              in.Age,
			UserType:         in.UserType,
			University:       in.University,
			Major:            in.Major,
			Year:             in.Year,
			Occupation:       in.Occupation,
			Bio:              in.Bio,
			Budget:           in.Budget,
			Interests:        in.Interests,
			SleepHabit:       in.SleepHabit,
			CleanlinessHabit: in.CleanlinessHabit,
			SocialLevel:      in.SocialLevel,
			Onboarded:        true,
		}
		if avatarKey.Valid && avatarKey.String != "" {
			p.AvatarURL = avatarURL(me)
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// GET /users/{id}/profile
func (a *App) publicProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_user_id")
			return
		}

		p, err := a.loadProfile(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !p.Onboarded) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		} else if err != nil {
			a.log.Error("loading profile", zap.String("user_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		// an open chat socket counts as online without asking the database
		online := a.hub.connections(id) > 0
		if !online {
			online, err = a.isOnlineNow(r.Context(), id)
			if err != nil {
				a.log.Warn("reading presence", zap.String("user_id", id), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{"profile": p, "online": online})
	}
}
