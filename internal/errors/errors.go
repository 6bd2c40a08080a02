package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess      Code = 0
	CodeInternal     Code = 1
	CodeUsage        Code = 2
	CodeNotFound     Code = 13
	CodeStale        Code = 14
	CodeBlocked      Code = 16
	CodeValidation   Code = 17
	CodeUnresolved   Code = 18
	CodeRiskAnalysis Code = 19
)

// Kind places an error in the pipeline's error taxonomy.
type Kind string

const (
	KindAssetResolution     Kind = "asset_resolution"
	KindProtocolResolution  Kind = "protocol_resolution"
	KindAmountParsing       Kind = "amount_parsing"
	KindRiskAnalysis        Kind = "risk_analysis"
	KindStrategyMatching    Kind = "strategy_matching"
	KindDisambiguation      Kind = "disambiguation"
	KindCommandProcessing   Kind = "command_processing"
	KindParameterValidation Kind = "parameter_validation"
	KindCommandBuilding     Kind = "command_building"
)

// Parent returns the enclosing kind, or "" for top-level kinds.
func (k Kind) Parent() Kind {
	switch k {
	case KindParameterValidation, KindCommandBuilding:
		return KindCommandProcessing
	default:
		return ""
	}
}

// ReasonInternal marks errors converted from an unexpected panic.
const ReasonInternal = "INTERNAL"

// Error is a typed error that carries a stable exit code and, for pipeline
// failures, a kind, a machine-readable reason and structured details.
type Error struct {
	Code    Code
	Kind    Kind
	Reason  string
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail returns e after recording key in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Domain builds a pipeline error of the given kind.
func Domain(kind Kind, reason, message string) *Error {
	return &Error{Code: codeForKind(kind), Kind: kind, Reason: reason, Message: message}
}

func codeForKind(kind Kind) Code {
	switch kind {
	case KindAssetResolution, KindProtocolResolution, KindAmountParsing:
		return CodeUsage
	case KindParameterValidation:
		return CodeValidation
	case KindDisambiguation, KindCommandBuilding:
		return CodeUnresolved
	case KindRiskAnalysis, KindStrategyMatching:
		return CodeRiskAnalysis
	default:
		return CodeInternal
	}
}

// Recover converts a panic in the calling function into a Reason=INTERNAL
// error of the given kind. It must be deferred directly:
//
//	defer clierr.Recover(clierr.KindRiskAnalysis, &err)
func Recover(kind Kind, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	e := Domain(kind, ReasonInternal, fmt.Sprintf("%s failed unexpectedly", kind))
	e.Code = CodeInternal
	*errp = e.WithDetail("originalError", fmt.Sprint(r))
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsKind reports whether err is a pipeline error of kind or of a kind nested under it.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == kind || (e.Kind != "" && e.Kind.Parent() == kind)
}

// HasReason reports whether err is a pipeline error with the given reason.
func HasReason(err error, reason string) bool {
	e, ok := As(err)
	return ok && e.Reason == reason
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type for err.
func TypeName(err error) string {
	e, ok := As(err)
	if !ok {
		return "internal_error"
	}
	switch e.Code {
	case CodeUsage:
		return "usage_error"
	case CodeNotFound:
		return "not_found"
	case CodeStale:
		return "stale_data"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeUnresolved:
		return "unresolved"
	case CodeRiskAnalysis:
		return "risk_analysis_error"
	default:
		return "internal_error"
	}
}
