package command

import (
	"time"

	"github.com/ggonzalez94/defi-intent/internal/model"
	"github.com/ggonzalez94/defi-intent/internal/risk"
	"github.com/ggonzalez94/defi-intent/internal/validate"
)

// Request is one classified utterance. Intent and Entities come from the
// upstream classifier; Context is account state resolved by the caller.
type Request struct {
	Intent     model.Intent             `json:"intent"`
	Input      string                   `json:"input,omitempty"`
	Entities   []model.FinancialEntity  `json:"entities,omitempty"`
	Context    *model.ParsingContext    `json:"context,omitempty"`
	Optional   model.OptionalParameters `json:"optional,omitempty"`
	Quote      *model.DerivedParameters `json:"quote,omitempty"`
	Experience risk.Experience          `json:"experience,omitempty"`
}

// Pending is a clarification awaiting an answer. It carries everything
// Resolve needs so the host can persist it between invocations.
type Pending struct {
	ID         string                      `json:"id"`
	Request    Request                     `json:"request"`
	Parameters model.CommandParameters     `json:"parameters"`
	Resolved   []model.AmbiguityType       `json:"resolved,omitempty"`
	Options    model.DisambiguationOptions `json:"options"`
	CreatedAt  time.Time                   `json:"created_at"`

	AmountConfidence float64 `json:"amount_confidence,omitempty"`
}

func (p Pending) ExpiresAt() time.Time {
	return p.CreatedAt.Add(p.Options.Timeout())
}

func (p Pending) amountConfidence() float64 {
	if p.AmountConfidence <= 0 {
		return 1
	}
	return p.AmountConfidence
}

// Outcome holds exactly one of Command or Clarification on success. In a
// batch, Error replaces both for requests that failed.
type Outcome struct {
	Command       *model.ExecutableCommand     `json:"command,omitempty"`
	Clarification *model.DisambiguationOptions `json:"clarification,omitempty"`
	Pending       *Pending                     `json:"pending,omitempty"`
	Validation    *validate.Result             `json:"validation,omitempty"`
	Risk          *risk.Assessment             `json:"risk,omitempty"`
	Error         *model.ErrorBody             `json:"error,omitempty"`
}
