package carecontext

import "strings"

// conditionSynonyms maps common diagnosis phrasings and abbreviations to a
// canonical condition slug. Matching is exact first, then by substring
// containment against the table keys, then a plain slugify.
var conditionSynonyms = map[string]string{
	"htn":                      "hypertension",
	"high blood pressure":      "hypertension",
	"hypertension":             "hypertension",
	"elevated blood pressure":  "hypertension",
	"dm":                       "diabetes",
	"diabetes":                 "diabetes",
	"diabetes mellitus":        "diabetes",
	"type 2 diabetes":          "diabetes",
	"type ii diabetes":         "diabetes",
	"t2dm":                     "diabetes",
	"prediabetes":              "prediabetes",
	"pre-diabetes":             "prediabetes",
	"hyperlipidemia":           "hyperlipidemia",
	"high cholesterol":         "hyperlipidemia",
	"dyslipidemia":             "hyperlipidemia",
	"obesity":                  "obesity",
	"overweight":               "obesity",
	"asthma":                   "asthma",
	"copd":                     "copd",
	"gerd":                     "gerd",
	"acid reflux":              "gerd",
	"hypothyroidism":           "hypothyroidism",
	"hashimoto":                "hypothyroidism",
	"anxiety":                  "anxiety",
	"generalized anxiety":      "anxiety",
	"gad":                      "anxiety",
	"depression":               "depression",
	"major depressive":         "depression",
	"mdd":                      "depression",
	"afib":                     "atrial_fibrillation",
	"atrial fibrillation":      "atrial_fibrillation",
	"chf":                      "heart_failure",
	"heart failure":            "heart_failure",
	"ckd":                      "chronic_kidney_disease",
	"chronic kidney":           "chronic_kidney_disease",
	"osteoarthritis":           "osteoarthritis",
	"migraine":                 "migraine",
	"insomnia":                 "insomnia",
	"sleep apnea":              "sleep_apnea",
	"osa":                      "sleep_apnea",
	"uti":                      "urinary_tract_infection",
	"urinary tract infection":  "urinary_tract_infection",
	"allergic rhinitis":        "allergic_rhinitis",
	"seasonal allergies":       "allergic_rhinitis",
	"anemia":                   "anemia",
	"iron deficiency":          "anemia",
	"vitamin d deficiency":     "vitamin_d_deficiency",
	"coronary artery disease":  "coronary_artery_disease",
	"cad":                      "coronary_artery_disease",
}

// NormalizeConditionID maps a free-text diagnosis to its canonical condition
// slug. Synonyms collapse ("HTN" and "Hypertension" both yield
// "hypertension"); anything unrecognized is slugified.
func NormalizeConditionID(diagnosis string) string {
	key := strings.ToLower(strings.TrimSpace(diagnosis))
	if key == "" {
		return ""
	}

	if slug, ok := conditionSynonyms[key]; ok {
		return slug
	}

	// Containment match prefers the longest key so "type 2 diabetes
	// mellitus" resolves through "diabetes mellitus", not "dm".
	best := ""
	for synonym := range conditionSynonyms {
		if strings.Contains(key, synonym) && len(synonym) > len(best) {
			best = synonym
		}
	}
	if best != "" {
		return conditionSynonyms[best]
	}

	return Slugify(key)
}

// Slugify lowercases s and replaces runs of non-alphanumeric characters with
// a single underscore, trimming leading and trailing underscores.
func Slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
