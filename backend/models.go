package main

import (
	"time"

	"github.com/roomly/roomly/backend/match"
)

// Profile is what a user fills in during onboarding.
type Profile struct {
	UserID           string   `json:"user_id"`
	FullName         string   `json:"full_name"`
	Age              *int     `json:"age,omitempty"`
	UserType         string   `json:"user_type"`
	University       string   `json:"university"`
	Major            string   `json:"major"`
	Year             string   `json:"year"`
	Occupation       string   `json:"occupation"`
	Bio              string   `json:"bio"`
	Budget           *float64 `json:"budget,omitempty"`
	Interests        []string `json:"interests"`
	SleepHabit       string   `json:"sleep_habit"`
	CleanlinessHabit string   `json:"cleanliness_habit"`
	SocialLevel      string   `json:"social_level"`
	AvatarURL        string   `json:"avatar_url,omitempty"`
	Onboarded        bool     `json:"onboarded"`

	avatarKey string
}

// scoring strips the profile down to what the scorer reads.
func (p Profile) scoring() match.Profile {
	mp := match.Profile{
		SleepHabit:       p.SleepHabit,
		CleanlinessHabit: p.CleanlinessHabit,
		SocialLevel:      p.SocialLevel,
		Interests:        p.Interests,
		Bio:              p.Bio,
	}
	if p.Budget != nil {
		mp.Budget = *p.Budget
	}
	return mp
}

// DisplayName falls back to a generic label for profiles without a name.
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return "Roomly user"
}

// Listing is a housing offer shown in the swipe deck and on the map.
type Listing struct {
	ID              string    `json:"id"`
	OwnerID         *string   `json:"owner_id,omitempty"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	HousingCategory string    `json:"housing_category"`
	AddressLine1    string    `json:"address_line1"`
	AddressLine2    string    `json:"address_line2"`
	City            string    `json:"city"`
	State           string    `json:"state"`
	PostalCode      string    `json:"postal_code"`
	Country         string    `json:"country"`
	Price           *float64  `json:"price,omitempty"`
	Bedrooms        *int      `json:"bedrooms,omitempty"`
	Bathrooms       *float64  `json:"bathrooms,omitempty"`
	Sqft            *int      `json:"sqft,omitempty"`
	PetsAllowed     bool      `json:"pets_allowed"`
	Furnished       bool      `json:"furnished"`
	Wifi            bool      `json:"wifi"`
	LaundryType     string    `json:"laundry_type"`
	CoverPhotoURL   string    `json:"cover_photo_url"`
	PhotoURLs       []string  `json:"photo_urls"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Resource is an entry on the opportunities board.
type Resource struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Location    string     `json:"location"`
	Date        *time.Time `json:"date,omitempty"`
	Link        string     `json:"link"`
	PostedBy    *string    `json:"posted_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OwnerSummary is the bit of a listing owner the feed shows.
type OwnerSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func avatarURL(userID string) string {
	return "/avatars/" + userID
}
