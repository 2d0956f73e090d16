// Package domain defines the persistent society entities, value types, and
// rule evaluation primitives used by optimus.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence tables.
const (
	// EntityNorm identifies a law record created by the political system.
	EntityNorm EntityType = "norm"
	// EntityCase identifies a dispute record tied to a norm.
	EntityCase EntityType = "case"
)

// Complexity bounds assigned to norms at creation.
const (
	MinComplexity = 1
	MaxComplexity = 10
)

// CaseStatus enumerates the case lifecycle.
type CaseStatus string

const (
	CaseStatusPending CaseStatus = "pending"
	CaseStatusSolved  CaseStatus = "solved"
)

// Decision records how a case was resolved.
type Decision string

const (
	DecisionAccepted Decision = "Accepted"
	DecisionRejected Decision = "Rejected"
)

// ParseDecision converts user input into a Decision. An empty string is
// rejected so callers decide their own default.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionAccepted, DecisionRejected:
		return Decision(raw), nil
	default:
		return "", fmt.Errorf("%w: decision must be %q or %q", ErrInvalidArgument, DecisionAccepted, DecisionRejected)
	}
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Norm is a simulated law.
type Norm struct {
	ID             int64     `json:"id"`
	Text           string    `json:"text"`
	Valid          bool      `json:"valid"`
	Complexity     int       `json:"complexity"`
	Constitutional bool      `json:"constitutional"`
	CreatedAt      time.Time `json:"created_at"`
}

// Case is a dispute raised against exactly one norm.
type Case struct {
	ID             int64      `json:"id"`
	Text           string     `json:"text"`
	NormID         int64      `json:"norm_id"`
	Constitutional bool       `json:"constitutional"`
	Status         CaseStatus `json:"status"`
	Decision       *Decision  `json:"decision"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}

// Solved reports whether the case has been resolved.
func (c Case) Solved() bool { return c.Status == CaseStatusSolved }

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the change list.
// Norms and cases are never deleted, so there is no delete action.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rules: %s", v.Message)
		}
	}
	return "transaction blocked by rules"
}
