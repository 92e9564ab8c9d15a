package match

// Severity is the display category of a tier.
type Severity string

const (
	SeverityStrong   Severity = "strong"
	SeverityModerate Severity = "moderate"
	SeverityNeutral  Severity = "neutral"
	SeverityWeak     Severity = "weak"
	SeverityNegative Severity = "negative"
)

// Tier is the label shown next to a score.
type Tier struct {
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
}

var tiers = []struct {
	min  int
	tier Tier
}{
	{80, Tier{"Excellent Match", SeverityStrong}},
	{60, Tier{"Good Match", SeverityModerate}},
	{40, Tier{"Moderate Match", SeverityNeutral}},
	{20, Tier{"Ok Match", SeverityWeak}},
}

var lowSimilarity = Tier{"Low Similarity", SeverityNegative}

// TierFor maps a score onto its tier. Thresholds are checked top-down.
func TierFor(score int) Tier {
	for _, t := range tiers {
		if score >= t.min {
			return t.tier
		}
	}
	return lowSimilarity
}

// Result is what a viewer sees for one candidate. It is computed on request
// and never stored.
type Result struct {
	Score    int      `json:"score"`
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
}

// Evaluate scores candidate for viewer and attaches the tier.
func Evaluate(viewer, candidate Profile) Result {
	score := Score(viewer, candidate)
	t := TierFor(score)
	return Result{Score: score, Label: t.Label, Severity: t.Severity}
}
