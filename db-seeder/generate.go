package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

type seedUser struct {
	ID         uuid.UUID
	Email      string
	LastOnline time.Time
	Profile    seedProfile
}

type seedProfile struct {
	FullName    string
	Age         int
	UserType    string
	University  string
	Major       string
	Year        string
	Occupation  string
	Bio         string
	Budget      float64
	Interests   []string
	Sleep       string
	Cleanliness string
	Social      string
}

type seedListing struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	Category    string
	Address     string
	Zip         string
	Price       float64
	Bedrooms    int
	Bathrooms   float64
	Sqft        int
	Pets        bool
	Furnished   bool
	Wifi        bool
	Laundry     string
	Lat, Lng    float64
}

type seedResource struct {
	ID          uuid.UUID
	Title       string
	Description string
	Category    string
	Location    string
	Date        *time.Time
	PostedBy    uuid.UUID
}

var (
	sleepHabits       = []string{"Early Bird", "Night Owl", "Flexible"}
	cleanlinessHabits = []string{"Very Clean", "Tidy", "Relaxed"}
	socialLevels      = []string{"Quiet", "Balanced", "Social"}
	interestPool      = []string{"hiking", "gaming", "cooking", "reading", "music", "yoga", "photography", "basketball", "coding", "art", "movies", "travel"}
	universities      = []string{"University at Albany", "RPI", "Siena College", "Union College", "The College of Saint Rose"}
	majors            = []string{"Computer Science", "Biology", "Business", "Psychology", "Engineering", "History"}
	years             = []string{"Freshman", "Sophomore", "Junior", "Senior", "Graduate"}
	occupations       = []string{"Nurse", "Software Engineer", "Teacher", "Analyst", "Designer"}
	firstNames        = []string{"Alex", "Sam", "Mia", "Jordan", "Noah", "Olivia", "Leo", "Emma", "Sara", "Luca", "Ava", "Ethan", "Maya", "Liam", "Zoe"}
	lastNames         = []string{"Smith", "Johnson", "Garcia", "Chen", "Patel", "Brown", "Nguyen", "Lopez", "Kim", "Rivera"}
)

// Streets around downtown Albany, NY with approximate coordinates.
var streets = []struct {
	Name     string
	Lat, Lng float64
	Zip      string
}{
	{"Washington Ave", 42.6581, -73.7647, "12210"},
	{"Madison Ave", 42.6487, -73.7712, "12208"},
	{"Lark St", 42.6560, -73.7630, "12210"},
	{"Central Ave", 42.6690, -73.7880, "12206"},
	{"Western Ave", 42.6780, -73.8240, "12203"},
	{"New Scotland Ave", 42.6530, -73.7890, "12208"},
	{"Quail St", 42.6600, -73.7780, "12206"},
}

// fixedUsers are the accounts everyone logs in with during development.
var fixedUsers = []struct {
	email   string
	profile seedProfile
}{
	{
		email: "user1@test.local",
		profile: seedProfile{
			FullName: "Test User One", Age: 21, UserType: "student",
			University: "University at Albany", Major: "Computer Science", Year: "Junior",
			Bio:    "Quiet coder who loves weekend hikes.",
			Budget: 900, Interests: []string{"hiking", "gaming", "coding"},
			Sleep: "Night Owl", Cleanliness: "Tidy", Social: "Balanced",
		},
	},
	{
		email: "user2@test.local",
		profile: seedProfile{
			FullName: "Test User Two", Age: 24, UserType: "professional",
			Occupation: "Nurse",
			Bio:        "Early shifts, calm evenings, always cooking something.",
			Budget:     1000, Interests: []string{"hiking", "cooking", "reading"},
			Sleep: "Night Owl", Cleanliness: "Tidy", Social: "Quiet",
		},
	},
}

// generateUsers is deterministic for a given rand source.
func generateUsers(r *rand.Rand, n int, now time.Time) []seedUser {
	users := make([]seedUser, 0, n)
	used := make(map[string]struct{}, n)

	for i := 0; i < n; i++ {
		u := seedUser{ID: newUUID(r)}
		if i < len(fixedUsers) {
			u.Email = fixedUsers[i].email
			u.LastOnline = now
			u.Profile = fixedUsers[i].profile
		} else {
			u.Profile = randomProfile(r)
			u.Email = uniqueEmail(r, u.Profile.FullName, used)
			u.LastOnline = now.Add(-time.Duration(r.Intn(14*24)) * time.Hour)
		}
		users = append(users, u)
	}
	return users
}

func randomProfile(r *rand.Rand) seedProfile {
	p := seedProfile{
		FullName:    pick(r, firstNames) + " " + pick(r, lastNames),
		Age:         18 + r.Intn(15),
		Bio:         pick(r, bios),
		Budget:      float64(500 + 50*r.Intn(23)),
		Interests:   pickSet(r, interestPool, 2+r.Intn(3)),
		Sleep:       pick(r, sleepHabits),
		Cleanliness: pick(r, cleanlinessHabits),
		Social:      pick(r, socialLevels),
	}
	if r.Intn(3) > 0 {
		p.UserType = "student"
		p.University = pick(r, universities)
		p.Major = pick(r, majors)
		p.Year = pick(r, years)
	} else {
		p.UserType = "professional"
		p.Occupation = pick(r, occupations)
	}
	return p
}

var bios = []string{
	"Looking for a chill place near campus.",
	"Weekend hiker and weekday coder.",
	"Plant parent, coffee lover.",
	"Quiet during the week, up for board games on Fridays.",
	"New to Albany and looking for roommates.",
}

func generateListings(r *rand.Rand, n int, owners []seedUser) []seedListing {
	if len(owners) == 0 {
		return nil
	}
	categories := []string{"Apartment", "House", "Room", "Studio"}
	laundry := []string{"In-unit", "Shared", "None"}

	out := make([]seedListing, 0, n)
	for i := 0; i < n; i++ {
		s := streets[r.Intn(len(streets))]
		beds := 1 + r.Intn(4)
		l := seedListing{
			ID:        newUUID(r),
			OwnerID:   owners[r.Intn(len(owners))].ID,
			Category:  pick(r, categories),
			Address:   fmt.Sprintf("%d %s", 10+r.Intn(400), s.Name),
			Zip:       s.Zip,
			Price:     float64(600 + 25*r.Intn(60)),
			Bedrooms:  beds,
			Bathrooms: float64(1+r.Intn(beds*2)) / 2,
			Sqft:      400 + 150*beds + r.Intn(200),
			Pets:      r.Intn(2) == 0,
			Furnished: r.Intn(3) == 0,
			Wifi:      r.Intn(4) > 0,
			Laundry:   pick(r, laundry),
			Lat:       s.Lat + (r.Float64()-0.5)*0.01,
			Lng:       s.Lng + (r.Float64()-0.5)*0.01,
		}
		l.Title = fmt.Sprintf("%d BR %s on %s", beds, strings.ToLower(l.Category), s.Name)
		l.Description = fmt.Sprintf("Sunny %s close to downtown Albany.", strings.ToLower(l.Category))
		out = append(out, l)
	}
	return out
}

func generateResources(r *rand.Rand, poster uuid.UUID, now time.Time) []seedResource {
	day := func(offset int) *time.Time {
		d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
		return &d
	}
	return []seedResource{
		{ID: newUUID(r), Title: "Washington Park cleanup", Description: "Gloves and bags provided.", Category: "volunteering", Location: "Washington Park", Date: day(7), PostedBy: poster},
		{ID: newUUID(r), Title: "Campus cafe barista", Description: "Part time, flexible hours.", Category: "jobs", Location: "Lark St", PostedBy: poster},
		{ID: newUUID(r), Title: "Tulip Festival", Description: "Annual spring festival.", Category: "events", Location: "Washington Park", Date: day(21), PostedBy: poster},
		{ID: newUUID(r), Title: "Tenant rights workshop", Description: "Know your lease before you sign.", Category: "housing", Location: "Albany Public Library", Date: day(10), PostedBy: poster},
		{ID: newUUID(r), Title: "Free bike repair", Description: "Saturday mornings.", Category: "other", Location: "Central Ave", PostedBy: poster},
	}
}

func newUUID(r *rand.Rand) uuid.UUID {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		// math/rand never fails to read
		panic(err)
	}
	return id
}

func uniqueEmail(r *rand.Rand, fullName string, used map[string]struct{}) string {
	local := strings.ToLower(strings.ReplaceAll(fullName, " ", "."))
	for {
		domain := []string{"example.com", "mail.test", "dev.local"}[r.Intn(3)]
		email := fmt.Sprintf("%s+%d@%s", local, r.Intn(1000000), domain)
		if _, ok := used[email]; !ok {
			used[email] = struct{}{}
			return email
		}
	}
}

func pick(r *rand.Rand, opts []string) string {
	return opts[r.Intn(len(opts))]
}

func pickSet(r *rand.Rand, opts []string, n int) []string {
	if n > len(opts) {
		n = len(opts)
	}
	out := make([]string, 0, n)
	for _, i := range r.Perm(len(opts))[:n] {
		out = append(out, opts[i])
	}
	return out
}
