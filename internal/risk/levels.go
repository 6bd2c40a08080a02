package risk

import (
	"strings"

	"github.com/ggonzalez94/defi-intent/internal/model"
)

type Level string

const (
	VeryLow  Level = "very_low"
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	VeryHigh Level = "very_high"
)

var levels = []Level{VeryLow, Low, Medium, High, VeryHigh}

// Ordinal ranks levels from 0 (very_low) to 4 (very_high); unknown is -1.
func (l Level) Ordinal() int {
	for i, lvl := range levels {
		if lvl == l {
			return i
		}
	}
	return -1
}

// Score maps a level onto the 0.1..0.9 scale used for weighting.
func (l Level) Score() float64 {
	switch l {
	case VeryLow:
		return 0.1
	case Low:
		return 0.3
	case High:
		return 0.7
	case VeryHigh:
		return 0.9
	default:
		return 0.5
	}
}

// Model collapses the five-level scale onto the command's low/medium/high.
func (l Level) Model() model.RiskLevel {
	switch l {
	case VeryLow, Low:
		return model.RiskLow
	case High, VeryHigh:
		return model.RiskHigh
	default:
		return model.RiskMedium
	}
}

func ParseLevel(v string) (Level, bool) {
	norm := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(strings.TrimSpace(v)))
	for _, lvl := range levels {
		if string(lvl) == norm {
			return lvl, true
		}
	}
	return "", false
}

// levelForScore buckets a 0..1 score with cutoffs 0.2/0.4/0.6/0.8.
func levelForScore(score float64) Level {
	switch {
	case score <= 0.2:
		return VeryLow
	case score <= 0.4:
		return Low
	case score <= 0.6:
		return Medium
	case score <= 0.8:
		return High
	default:
		return VeryHigh
	}
}

func maxLevel(a, b Level) Level {
	if b.Ordinal() > a.Ordinal() {
		return b
	}
	return a
}

type Experience string

const (
	Beginner     Experience = "beginner"
	Intermediate Experience = "intermediate"
	Advanced     Experience = "advanced"
	Expert       Experience = "expert"
)

var experiences = []Experience{Beginner, Intermediate, Advanced, Expert}

func ParseExperience(v string) (Experience, bool) {
	norm := strings.ToLower(strings.TrimSpace(v))
	for _, e := range experiences {
		if string(e) == norm {
			return e, true
		}
	}
	return "", false
}

func (e Experience) ordinal() int {
	for i, exp := range experiences {
		if exp == e {
			return i
		}
	}
	return 0
}
