package core

import (
	"context"
	"fmt"

	"optimus/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in invariants.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewNormComplexityRule())
	engine.Register(NewNormMonotonicValidityRule())
	engine.Register(NewCaseResolutionRule())
	engine.Register(NewCaseNormReferenceRule())
	engine.Register(NewCaseSingleResolutionRule())
	return engine
}

func blockNorm(rule string, id int64, format string, args ...any) domain.Violation {
	return domain.Violation{Rule: rule, Severity: domain.SeverityBlock, Message: fmt.Sprintf(format, args...), Entity: domain.EntityNorm, EntityID: id}
}

func blockCase(rule string, id int64, format string, args ...any) domain.Violation {
	return domain.Violation{Rule: rule, Severity: domain.SeverityBlock, Message: fmt.Sprintf(format, args...), Entity: domain.EntityCase, EntityID: id}
}

// NewNormComplexityRule keeps every written norm's complexity within bounds.
func NewNormComplexityRule() domain.Rule { return normComplexityRule{} }

type normComplexityRule struct{}

func (normComplexityRule) Name() string { return "norm_complexity" }

func (r normComplexityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		n, ok := ch.After.(domain.Norm)
		if !ok {
			continue
		}
		if n.Complexity < domain.MinComplexity || n.Complexity > domain.MaxComplexity {
			res.Violations = append(res.Violations, blockNorm(r.Name(), n.ID,
				"norm %d complexity %d outside [%d,%d]", n.ID, n.Complexity, domain.MinComplexity, domain.MaxComplexity))
		}
	}
	return res, nil
}

// NewNormMonotonicValidityRule forbids reinstating an invalidated norm.
func NewNormMonotonicValidityRule() domain.Rule { return normMonotonicValidityRule{} }

type normMonotonicValidityRule struct{}

func (normMonotonicValidityRule) Name() string { return "norm_monotonic_validity" }

func (r normMonotonicValidityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		before, okBefore := ch.Before.(domain.Norm)
		after, okAfter := ch.After.(domain.Norm)
		if !okBefore || !okAfter {
			continue
		}
		if !before.Valid && after.Valid {
			res.Violations = append(res.Violations, blockNorm(r.Name(), after.ID, "norm %d cannot be reinstated", after.ID))
		}
	}
	return res, nil
}

// NewCaseResolutionRule ties resolved_at and decision to the solved status.
func NewCaseResolutionRule() domain.Rule { return caseResolutionRule{} }

type caseResolutionRule struct{}

func (caseResolutionRule) Name() string { return "case_resolution_consistency" }

func (r caseResolutionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		c, ok := ch.After.(domain.Case)
		if !ok {
			continue
		}
		switch c.Status {
		case domain.CaseStatusSolved:
			if c.ResolvedAt == nil {
				res.Violations = append(res.Violations, blockCase(r.Name(), c.ID, "solved case %d has no resolved_at", c.ID))
			}
		case domain.CaseStatusPending:
			if c.ResolvedAt != nil || c.Decision != nil {
				res.Violations = append(res.Violations, blockCase(r.Name(), c.ID, "pending case %d carries a resolution", c.ID))
			}
		default:
			res.Violations = append(res.Violations, blockCase(r.Name(), c.ID, "case %d has unknown status %q", c.ID, c.Status))
		}
	}
	return res, nil
}

// NewCaseNormReferenceRule requires every written case to reference an existing norm.
func NewCaseNormReferenceRule() domain.Rule { return caseNormReferenceRule{} }

type caseNormReferenceRule struct{}

func (caseNormReferenceRule) Name() string { return "case_norm_reference" }

func (r caseNormReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		c, ok := ch.After.(domain.Case)
		if !ok {
			continue
		}
		if _, exists := view.FindNorm(c.NormID); !exists {
			res.Violations = append(res.Violations, blockCase(r.Name(), c.ID, "case %d references missing norm %d", c.ID, c.NormID))
		}
	}
	return res, nil
}

// NewCaseSingleResolutionRule freezes a case once it is solved.
func NewCaseSingleResolutionRule() domain.Rule { return caseSingleResolutionRule{} }

type caseSingleResolutionRule struct{}

func (caseSingleResolutionRule) Name() string { return "case_single_resolution" }

func (r caseSingleResolutionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		before, okBefore := ch.Before.(domain.Case)
		if !okBefore || !before.Solved() || ch.Action != domain.ActionUpdate {
			continue
		}
		res.Violations = append(res.Violations, blockCase(r.Name(), before.ID, "case %d is already solved", before.ID))
	}
	return res, nil
}
