package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int            `json:"code"`
	Type    string         `json:"type"`
	Reason  string         `json:"reason,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Store     StoreStatus `json:"store"`
}

// StoreStatus reports what the host did with the local command/clarification stores.
type StoreStatus struct {
	Status string `json:"status"`
	Key    string `json:"key,omitempty"`
}

// Intent is the operation class produced by the upstream intent classifier.
type Intent string

const (
	IntentLend                   Intent = "lend"
	IntentWithdraw               Intent = "withdraw"
	IntentBorrow                 Intent = "borrow"
	IntentRepay                  Intent = "repay"
	IntentSwap                   Intent = "swap"
	IntentAddLiquidity           Intent = "add_liquidity"
	IntentRemoveLiquidity        Intent = "remove_liquidity"
	IntentStake                  Intent = "stake"
	IntentUnstake                Intent = "unstake"
	IntentOpenPosition           Intent = "open_position"
	IntentClosePosition          Intent = "close_position"
	IntentArbitrage              Intent = "arbitrage"
	IntentCrossProtocolArbitrage Intent = "cross_protocol_arbitrage"
	IntentPortfolioStatus        Intent = "portfolio_status"
	IntentUnknown                Intent = "unknown"
)

var knownIntents = []Intent{
	IntentLend, IntentWithdraw, IntentBorrow, IntentRepay, IntentSwap,
	IntentAddLiquidity, IntentRemoveLiquidity, IntentStake, IntentUnstake,
	IntentOpenPosition, IntentClosePosition, IntentArbitrage,
	IntentCrossProtocolArbitrage, IntentPortfolioStatus, IntentUnknown,
}

// ParseIntent maps free-form intent names ("LEND", "add-liquidity") to an Intent.
func ParseIntent(v string) (Intent, bool) {
	norm := normalizeKey(v)
	for _, intent := range knownIntents {
		if string(intent) == norm {
			return intent, true
		}
	}
	return IntentUnknown, false
}

// Intents lists every known intent in a stable order.
func Intents() []Intent {
	return append([]Intent(nil), knownIntents...)
}

type EntityType string

const (
	EntityToken    EntityType = "token"
	EntityAmount   EntityType = "amount"
	EntityProtocol EntityType = "protocol"
	EntityLeverage EntityType = "leverage"
	EntitySlippage EntityType = "slippage"
)

// FinancialEntity is a span extracted from user text by the upstream classifier.
type FinancialEntity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Normalized string     `json:"normalized"`
	Confidence float64    `json:"confidence"`
}

// Text returns the normalized form, falling back to the raw span.
func (e FinancialEntity) Text() string {
	if e.Normalized != "" {
		return e.Normalized
	}
	return e.Value
}

// EntitiesOf filters entities by type, preserving order.
func EntitiesOf(entities []FinancialEntity, typ EntityType) []FinancialEntity {
	out := []FinancialEntity{}
	for _, e := range entities {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CommandValidationError is a field-tagged validation finding. It is data, not a Go error.
type CommandValidationError struct {
	Field      string   `json:"field"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion,omitempty"`
}

type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationError   ValidationStatus = "error"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type CommandMetadata struct {
	OriginalInput string                   `json:"original_input,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	Confidence    float64                  `json:"confidence"`
	RiskScore     float64                  `json:"risk_score"`
	RiskWarnings  []string                 `json:"risk_warnings,omitempty"`
	Warnings      []CommandValidationError `json:"warnings,omitempty"`
	Resolved      []AmbiguityType          `json:"resolved,omitempty"`
}

// ExecutableCommand is the terminal artifact of the pipeline. It is never
// mutated after creation; a retry yields a new command with a new ID.
type ExecutableCommand struct {
	ID                   string            `json:"id"`
	Intent               Intent            `json:"intent"`
	Action               string            `json:"action"`
	Parameters           CommandParameters `json:"parameters"`
	Metadata             CommandMetadata   `json:"metadata"`
	ValidationStatus     ValidationStatus  `json:"validation_status"`
	ConfirmationRequired bool              `json:"confirmation_required"`
	EstimatedGas         *uint64           `json:"estimated_gas,omitempty"`
	RiskLevel            RiskLevel         `json:"risk_level"`
}

type AmbiguityType string

const (
	AmbiguityUnclearIntent     AmbiguityType = "unclear_intent"
	AmbiguityTokenDirection    AmbiguityType = "token_direction"
	AmbiguityMissingProtocol   AmbiguityType = "missing_protocol"
	AmbiguityMultipleAmounts   AmbiguityType = "multiple_amounts"
	AmbiguityParameterConflict AmbiguityType = "parameter_conflict"
	AmbiguityProtocolChoice    AmbiguityType = "protocol_choice"
	AmbiguityRiskConfirmation  AmbiguityType = "risk_confirmation"
)

type DisambiguationOption struct {
	ID          string            `json:"id"`
	Label       string            `json:"label"`
	Description string            `json:"description,omitempty"`
	Parameters  CommandParameters `json:"parameters"`
	Intent      Intent            `json:"intent,omitempty"`
	Confidence  float64           `json:"confidence"`
}

// DisambiguationOptions is one clarification question. TimeoutMS is an
// advisory deadline for the presenting layer; nothing here runs a timer.
type DisambiguationOptions struct {
	Type          AmbiguityType          `json:"type"`
	Question      string                 `json:"question"`
	Options       []DisambiguationOption `json:"options"`
	DefaultOption string                 `json:"default_option,omitempty"`
	TimeoutMS     int64                  `json:"timeout_ms"`
}

func (o DisambiguationOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutMS) * time.Millisecond
}

func (o DisambiguationOptions) Find(id string) (DisambiguationOption, bool) {
	for _, opt := range o.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return DisambiguationOption{}, false
}
