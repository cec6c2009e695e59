package carecontext

import (
	"fmt"
	"strings"
	"time"
)

// recentlyLoggedWindow is the cooldown window: a tracking type logged inside
// it is excluded from new tracking-nudge proposals.
const recentlyLoggedWindow = 24 * time.Hour

// ConditionAge pairs an active condition with a coarse human-readable age
// bucket used when prompting the analyzer.
type ConditionAge struct {
	ConditionID string `json:"condition_id"`
	Name        string `json:"name"`
	Age         string `json:"age"`
}

// Summary is the side-effect-free projection of a context handed to the
// delta analyzer.
type Summary struct {
	UserID             string         `json:"user_id"`
	ExistingConditions []string       `json:"existing_conditions"`
	CurrentMedications []string       `json:"current_medications"`
	ActiveTracking     []TrackingType `json:"active_tracking"`
	RecentlyLogged     []TrackingType `json:"recently_logged"`
	ConditionAges      []ConditionAge `json:"condition_ages"`
	VisitCount         int            `json:"visit_count"`
}

// Summarize derives the AI-facing summary from a context. Only active
// conditions and medications appear; tracking duplicates are collapsed.
func Summarize(c *PatientMedicalContext, now time.Time) Summary {
	s := Summary{UserID: c.UserID, VisitCount: len(c.VisitHistory)}

	for _, cond := range c.Conditions {
		if cond.Status != ConditionActive {
			continue
		}
		s.ExistingConditions = append(s.ExistingConditions, cond.Name)
		s.ConditionAges = append(s.ConditionAges, ConditionAge{
			ConditionID: cond.ID,
			Name:        cond.Name,
			Age:         ageBucket(now.Sub(cond.DiagnosedAt)),
		})
	}

	for _, med := range c.Medications {
		if !med.Active {
			continue
		}
		s.CurrentMedications = append(s.CurrentMedications, formatMedication(med))
	}

	for _, tr := range c.NormalizedTracking() {
		s.ActiveTracking = append(s.ActiveTracking, tr.Type)
		if tr.LastLoggedAt != nil && now.Sub(*tr.LastLoggedAt) < recentlyLoggedWindow {
			s.RecentlyLogged = append(s.RecentlyLogged, tr.Type)
		}
	}

	return s
}

func formatMedication(med PatientMedication) string {
	parts := []string{med.Name}
	if med.Dose != "" {
		parts = append(parts, med.Dose)
	}
	if med.Frequency != "" {
		parts = append(parts, med.Frequency)
	}
	return strings.Join(parts, " ")
}

// ageBucket renders a diagnosis age as "today", "N day(s) ago",
// "N week(s) ago" or "N month(s) ago".
func ageBucket(age time.Duration) string {
	days := int(age.Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days < 7:
		return fmt.Sprintf("%d %s ago", days, plural(days, "day"))
	case days < 30:
		weeks := days / 7
		return fmt.Sprintf("%d %s ago", weeks, plural(weeks, "week"))
	default:
		months := days / 30
		return fmt.Sprintf("%d %s ago", months, plural(months, "month"))
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
