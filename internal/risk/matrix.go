package risk

import (
	"risk-assessment-service/internal/domain/assessment"
)

// Classify maps a severity/likelihood pair onto a risk level using a 5x5
// product matrix: 1-4 LOW, 5-12 MEDIUM, 15-25 HIGH. Inputs outside [1,5]
// are clamped, so the function is total and monotonic in both arguments.
func Classify(severity, likelihood int) assessment.RiskLevel {
	score := Clamp(severity) * Clamp(likelihood)
	switch {
	case score >= 15:
		return assessment.RiskLevelHigh
	case score >= 5:
		return assessment.RiskLevelMedium
	default:
		return assessment.RiskLevelLow
	}
}

// Clamp forces a score onto the 1-5 scale.
func Clamp(score int) int {
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
