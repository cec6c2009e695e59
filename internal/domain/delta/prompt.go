package delta

import (
	"fmt"
	"strings"

	"github.com/curalog/go-care/internal/domain/carecontext"
)

// systemInstruction is the nudge policy sent verbatim with every analysis
// request. The backend proposes; the clamp in policy.go disposes.
const systemInstruction = `You are a clinical engagement assistant for a consumer health app.
Given a patient's accumulated medical context and the changes from their latest
visit, recommend proactive nudges to send to the patient.

Rules:
- Propose at most 2 nudges per visit.
- Allowed nudge types: introduction, medication_checkin, condition_tracking, followup, insight.
- Allowed urgency values: immediate, day1, day3, week1.
- Never propose a condition_tracking nudge with urgency "immediate" for a
  diagnosis made at this visit; give the patient time to absorb the news first.
- Do not propose tracking for a type the patient logged in the last 24 hours.
- Tracking types are limited to: bp, glucose, weight, symptoms.
- Be conservative: fewer, better-targeted nudges beat frequent ones.

Respond with a single JSON object:
{
  "nudges": [{"type": "...", "reason": "...", "condition_id": "...",
              "medication_name": "...", "tracking_type": "...",
              "urgency": "...", "is_new_diagnosis": false}],
  "context_updates": {"new_conditions": ["..."], "tracking_to_enable": ["..."]},
  "reasoning": "..."
}
No prose outside the JSON object.`

// buildUserMessage renders the context summary and this visit's facts into
// the analysis request body.
func buildUserMessage(summary carecontext.Summary, update carecontext.VisitUpdate) string {
	var b strings.Builder

	b.WriteString("PATIENT CONTEXT\n")
	writeList(&b, "Existing conditions", summary.ExistingConditions)
	writeList(&b, "Current medications", summary.CurrentMedications)
	writeList(&b, "Active tracking", trackingStrings(summary.ActiveTracking))
	writeList(&b, "Logged in last 24h (do not re-nudge)", trackingStrings(summary.RecentlyLogged))
	if len(summary.ConditionAges) > 0 {
		b.WriteString("Condition ages:\n")
		for _, age := range summary.ConditionAges {
			fmt.Fprintf(&b, "  - %s: diagnosed %s\n", age.Name, age.Age)
		}
	}

	b.WriteString("\nTHIS VISIT\n")
	fmt.Fprintf(&b, "Visit date: %s\n", update.VisitDate.Format("2006-01-02"))
	writeList(&b, "Diagnoses discussed", update.Diagnoses)

	var started []string
	for _, med := range update.MedicationsStarted {
		started = append(started, strings.TrimSpace(fmt.Sprintf("%s %s %s", med.Name, med.Dose, med.Frequency)))
	}
	writeList(&b, "Medications started", started)

	var changed []string
	for _, med := range update.MedicationsChanged {
		changed = append(changed, strings.TrimSpace(fmt.Sprintf("%s %s %s", med.Name, med.Dose, med.Frequency)))
	}
	writeList(&b, "Medications changed", changed)
	writeList(&b, "Medications stopped", update.MedicationsStopped)

	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", label)
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, "; "))
}

func trackingStrings(types []carecontext.TrackingType) []string {
	var out []string
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}
