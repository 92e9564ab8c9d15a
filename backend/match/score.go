// Package match computes roommate compatibility between two onboarded profiles.
package match

import "math"

// Profile is the subset of a user's profile that takes part in scoring.
// Zero values mean "not provided" and never match anything.
type Profile struct {
	Budget           float64  `json:"budget"`
	SleepHabit       string   `json:"sleep_habit"`
	CleanlinessHabit string   `json:"cleanliness_habit"`
	SocialLevel      string   `json:"social_level"`
	Interests        []string `json:"interests"`
	Bio              string   `json:"bio"`
}

// Weights says how much each sub-score matters to the total.
type Weights struct {
	Budget    float64 `json:"budget"`
	Lifestyle float64 `json:"lifestyle"`
	Interests float64 `json:"interests"`
	Bio       float64 `json:"bio"`
}

// DefaultWeights sum to 1.0. Bio has a slot but nothing computes it yet,
// so the highest reachable score is 85.
var DefaultWeights = Weights{
	Budget:    0.25,
	Lifestyle: 0.40,
	Interests: 0.20,
	Bio:       0.15,
}

const (
	sleepPoints       = 33
	cleanlinessPoints = 34
	socialPoints      = 33

	budgetTolerance = 200.0
	budgetDecay     = 5.0

	pointsPerInterest = 25
)

// Breakdown holds every sub-score (each 0..100) and the weighted total.
type Breakdown struct {
	Budget    float64 `json:"budget"`
	Lifestyle int     `json:"lifestyle"`
	Interests int     `json:"interests"`
	Bio       int     `json:"bio"`
	Total     int     `json:"total"`
}

// Score returns the compatibility of candidate from viewer's point of view, 0..100.
func Score(viewer, candidate Profile) int {
	return Explain(viewer, candidate).Total
}

// Explain is Score with the sub-scores that produced it.
func Explain(viewer, candidate Profile) Breakdown {
	b := Breakdown{
		Budget:    BudgetScore(viewer.Budget, candidate.Budget),
		Lifestyle: LifestyleScore(viewer, candidate),
		Interests: InterestScore(viewer.Interests, candidate.Interests),
		// Bio is never derived from the text.
		Bio: 0,
	}

	w := DefaultWeights
	raw := b.Budget*w.Budget +
		float64(b.Lifestyle)*w.Lifestyle +
		float64(b.Interests)*w.Interests

	b.Total = int(math.Round(raw))
	return b
}

// LifestyleScore adds 33/34/33 points for matching sleep, cleanliness and social habits.
func LifestyleScore(a, b Profile) int {
	score := 0
	if sameHabit(a.SleepHabit, b.SleepHabit) {
		score += sleepPoints
	}
	if sameHabit(a.CleanlinessHabit, b.CleanlinessHabit) {
		score += cleanlinessPoints
	}
	if sameHabit(a.SocialLevel, b.SocialLevel) {
		score += socialPoints
	}
	return score
}

func sameHabit(a, b string) bool {
	return a != "" && a == b
}

// BudgetScore is 100 while the gap stays under 200, then decays by one point per 5 units.
// The two branches are intentional: a gap of exactly 200 scores 60, not 100.
func BudgetScore(a, b float64) float64 {
	d := math.Abs(a - b)
	if d < budgetTolerance {
		return 100
	}
	return math.Max(0, 100-d/budgetDecay)
}

// InterestScore gives 25 points per shared tag, capped at 100.
func InterestScore(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	theirs := make(map[string]struct{}, len(b))
	for _, tag := range b {
		theirs[tag] = struct{}{}
	}

	seen := make(map[string]struct{}, len(a))
	shared := 0
	for _, tag := range a {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if _, ok := theirs[tag]; ok {
			shared++
		}
	}

	return min(100, shared*pointsPerInterest)
}
