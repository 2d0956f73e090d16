package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optimus/internal/analysis"
	"optimus/pkg/domain"
)

// Notifier receives user-facing notifications and realtime events produced by
// service operations.
type Notifier interface {
	Notify(ctx context.Context, message, kind string)
	Broadcast(event string, data any)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string) {}
func (noopNotifier) Broadcast(string, any)                  {}

// Notification kinds.
const (
	NotifyInfo    = "info"
	NotifySuccess = "success"
	NotifyWarning = "warning"
)

// NormFilter selects norms by validity.
type NormFilter int

const (
	NormsAll NormFilter = iota
	NormsValid
	NormsInvalid
)

// CaseFilter selects cases by status.
type CaseFilter int

const (
	CasesAll CaseFilter = iota
	CasesPending
	CasesSolved
)

// CitizenBatch is the outcome of one round of citizen pressure.
type CitizenBatch struct {
	Message string `json:"message"`
	Cases   []Case `json:"cases"`
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics installs the operation recorder. A recorder that also implements
// EventCounter receives domain event counts.
func WithMetrics(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder == nil {
			return
		}
		s.metrics = recorder
		if counter, ok := recorder.(EventCounter); ok {
			s.events = counter
		}
	}
}

// WithClock overrides the clock used for resolutions and activity timestamps.
func WithClock(now Clock) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithActivityLog replaces the default activity log.
func WithActivityLog(log *ActivityLog) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.activity = log
		}
	}
}

// Service is the application context shared by the HTTP handlers, the CLI
// and the autopilot.
type Service struct {
	store    PersistentStore
	society  *Society
	notifier Notifier
	activity *ActivityLog
	metrics  MetricsRecorder
	events   EventCounter
	logger   *slog.Logger
	now      Clock
}

// NewService validates its dependencies and seeds the law and case counters
// from the records already in store.
func NewService(store PersistentStore, society *Society, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("core: store is required")
	}
	if society == nil || society.Political == nil || society.Judicial == nil || society.Citizens == nil {
		return nil, errors.New("core: society with political, judicial and citizen systems is required")
	}
	s := &Service{
		store:    store,
		society:  society,
		notifier: noopNotifier{},
		activity: NewActivityLog(DefaultActivityLimit),
		metrics:  noopMetrics{},
		events:   noopMetrics{},
		logger:   slog.Default(),
		now:      systemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	society.Political.Seed(len(store.ListNorms()))
	society.Judicial.Seed(len(store.ListCases()))
	return s, nil
}

// Store returns the underlying persistence.
func (s *Service) Store() PersistentStore { return s.store }

// Society returns the simulated society.
func (s *Service) Society() *Society { return s.society }

// observe times op and logs failures. Domain errors are expected outcomes and
// log at debug; anything else is an internal failure.
func (s *Service) observe(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	switch {
	case err == nil:
	case IsDomainError(err):
		s.logger.DebugContext(ctx, "operation rejected", "op", op, "error", err)
	default:
		s.logger.ErrorContext(ctx, "operation failed", "op", op, "error", err)
	}
	return err
}

func (s *Service) runTx(ctx context.Context, op string, fn func(Transaction) error) error {
	res, err := s.store.RunInTransaction(ctx, fn)
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.logger.WarnContext(ctx, "rule warning", "op", op, "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
		}
	}
	return err
}

// IsDomainError reports whether err is one of the classified domain kinds.
func IsDomainError(err error) bool {
	var rv domain.RuleViolationError
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrPrecondition) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.As(err, &rv)
}

func (s *Service) record(format string, args ...any) {
	s.activity.Append(fmt.Sprintf(format, args...), s.now())
}

// CreateNorm enacts a new norm. Empty text is replaced by "Law {n}".
func (s *Service) CreateNorm(ctx context.Context, text string) (Norm, error) {
	var created Norm
	err := s.observe(ctx, "create_norm", func() error {
		return s.runTx(ctx, "create_norm", func(tx Transaction) error {
			var err error
			created, err = s.society.Political.CreateNorm(tx, text)
			return err
		})
	})
	if err != nil {
		return Norm{}, err
	}
	s.society.MarkPolitical()
	s.record("Created Norm #%d: %s", created.ID, created.Text)
	s.events.CountEvent(EventNormCreated, 1)
	s.notifier.Notify(ctx, "New norm created: "+created.Text, NotifyInfo)
	s.notifier.Broadcast(EventNormCreated, map[string]any{
		"id":    created.ID,
		"text":  created.Text,
		"valid": created.Valid,
	})
	return created, nil
}

// ListNorms returns norms matching filter ordered by id.
func (s *Service) ListNorms(ctx context.Context, filter NormFilter) ([]Norm, error) {
	var out []Norm
	err := s.observe(ctx, "list_norms", func() error {
		return s.store.View(ctx, func(v TransactionView) error {
			out = filterNorms(v.ListNorms(), filter)
			return nil
		})
	})
	return out, err
}

func filterNorms(norms []Norm, filter NormFilter) []Norm {
	out := make([]Norm, 0, len(norms))
	for _, n := range norms {
		switch filter {
		case NormsValid:
			if !n.Valid {
				continue
			}
		case NormsInvalid:
			if n.Valid {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// CheckConstitutionality reviews a norm and counts as the day's judicial action.
func (s *Service) CheckConstitutionality(ctx context.Context, normID int64) (Norm, error) {
	var norm Norm
	err := s.observe(ctx, "check_constitutionality", func() error {
		return s.store.View(ctx, func(v TransactionView) error {
			var err error
			norm, err = s.society.Judicial.CheckConstitutionality(v, normID)
			return err
		})
	})
	if err != nil {
		return Norm{}, err
	}
	s.society.MarkJudicial()
	s.record("Checked constitutionality of Norm #%d", norm.ID)
	return norm, nil
}

// MarkUnconstitutional invalidates a norm permanently.
func (s *Service) MarkUnconstitutional(ctx context.Context, normID int64) (Norm, error) {
	var norm Norm
	err := s.observe(ctx, "mark_unconstitutional", func() error {
		return s.runTx(ctx, "mark_unconstitutional", func(tx Transaction) error {
			var err error
			norm, err = s.society.Judicial.MarkUnconstitutional(tx, normID)
			return err
		})
	})
	if err != nil {
		return Norm{}, err
	}
	s.society.MarkJudicial()
	s.record("Norm #%d marked as unconstitutional", norm.ID)
	s.events.CountEvent(EventNormUpdate, 1)
	s.notifier.Notify(ctx, fmt.Sprintf("Norm #%d has been marked as unconstitutional.", norm.ID), NotifyWarning)
	s.notifier.Broadcast(EventNormUpdate, map[string]any{
		"norm_id":        norm.ID,
		"valid":          norm.Valid,
		"constitutional": norm.Constitutional,
	})
	return norm, nil
}

// CreateCase opens a case against a norm. created is false, with no error,
// when the norm is no longer valid.
func (s *Service) CreateCase(ctx context.Context, normID int64) (Case, bool, error) {
	var (
		c       Case
		created bool
	)
	err := s.observe(ctx, "create_case", func() error {
		return s.runTx(ctx, "create_case", func(tx Transaction) error {
			norm, ok := tx.FindNorm(normID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityNorm, ID: normID}
			}
			var err error
			c, created, err = s.society.Judicial.CreateCase(tx, norm)
			return err
		})
	})
	if err != nil || !created {
		return Case{}, false, err
	}
	s.society.MarkJudicial()
	s.record("Opened %s against Norm #%d", c.Text, c.NormID)
	s.events.CountEvent(EventCaseCreated, 1)
	s.notifier.Notify(ctx, "New case created: "+c.Text, NotifyInfo)
	s.notifier.Broadcast(EventCaseCreated, c)
	return c, true, nil
}

// GenerateCitizenCases raises a batch of petitions against the valid norms.
// With no valid norm the batch is empty and the message says so.
func (s *Service) GenerateCitizenCases(ctx context.Context) (CitizenBatch, error) {
	var cases []Case
	err := s.observe(ctx, "generate_citizen_cases", func() error {
		return s.runTx(ctx, "generate_citizen_cases", func(tx Transaction) error {
			valid := filterNorms(tx.Snapshot().ListNorms(), NormsValid)
			var err error
			cases, err = s.society.Citizens.GenerateCases(tx, valid)
			return err
		})
	})
	if err != nil {
		return CitizenBatch{}, err
	}
	if len(cases) == 0 {
		return CitizenBatch{Message: NoValidNormMessage, Cases: []Case{}}, nil
	}
	msg := fmt.Sprintf("Generated %d citizen pressure cases", len(cases))
	s.record("%s", msg)
	s.events.CountEvent(EventCasesGenerated, len(cases))
	s.notifier.Notify(ctx, msg, NotifyInfo)
	s.notifier.Broadcast(EventCasesGenerated, map[string]any{
		"count": len(cases),
		"cases": cases,
	})
	return CitizenBatch{Message: msg, Cases: cases}, nil
}

// ListCases returns cases matching filter ordered by id.
func (s *Service) ListCases(ctx context.Context, filter CaseFilter) ([]Case, error) {
	var out []Case
	err := s.observe(ctx, "list_cases", func() error {
		return s.store.View(ctx, func(v TransactionView) error {
			all := v.ListCases()
			out = make([]Case, 0, len(all))
			for _, c := range all {
				switch filter {
				case CasesPending:
					if c.Solved() {
						continue
					}
				case CasesSolved:
					if !c.Solved() {
						continue
					}
				}
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

// SolveCase resolves a pending case. An empty decision means Accepted.
func (s *Service) SolveCase(ctx context.Context, caseID int64, decision domain.Decision) (Case, error) {
	if decision == "" {
		decision = domain.DecisionAccepted
	}
	var solved Case
	err := s.observe(ctx, "solve_case", func() error {
		if _, err := domain.ParseDecision(string(decision)); err != nil {
			return err
		}
		return s.runTx(ctx, "solve_case", func(tx Transaction) error {
			var err error
			solved, err = s.society.Judicial.ResolveCase(tx, caseID, decision, s.now())
			return err
		})
	})
	if err != nil {
		return Case{}, err
	}
	s.society.MarkJudicial()
	s.record("%s solved (%s)", solved.Text, decision)
	s.events.CountEvent(EventCaseSolved, 1)
	s.notifier.Notify(ctx, fmt.Sprintf("Case %d has been resolved", solved.ID), NotifySuccess)
	s.notifier.Broadcast(EventCaseSolved, map[string]any{
		"id":          solved.ID,
		"text":        solved.Text,
		"decision":    solved.Decision,
		"resolved_at": solved.ResolvedAt,
	})
	return solved, nil
}

// SimulateDay advances the day once both branches have acted.
func (s *Service) SimulateDay(ctx context.Context) (int, error) {
	var iteration int
	err := s.observe(ctx, "simulate_day", func() error {
		var err error
		iteration, err = s.society.SimulateDay()
		return err
	})
	if err != nil {
		return iteration, err
	}
	s.record("Day %d progressed successfully!", iteration)
	s.events.CountEvent(EventDayAdvanced, 1)
	s.notifier.Broadcast(EventDayAdvanced, map[string]any{"iteration": iteration})
	return iteration, nil
}

// DayState returns the current day gate.
func (s *Service) DayState() DayState { return s.society.State() }

// Statistics summarizes norms and cases.
func (s *Service) Statistics(ctx context.Context) (analysis.Counter, error) {
	var out analysis.Counter
	err := s.observe(ctx, "statistics", func() error {
		return s.store.View(ctx, func(v TransactionView) error {
			out = analysis.Count(v)
			return nil
		})
	})
	return out, err
}

// NormativeInflation computes the inflation indicators. Failures are logged
// and reported as the fallback payload.
func (s *Service) NormativeInflation(ctx context.Context) analysis.Inflation {
	var out analysis.Inflation
	err := s.observe(ctx, "normative_inflation", func() error {
		return s.store.View(ctx, func(v TransactionView) error {
			out = analysis.NormativeInflation(v)
			return nil
		})
	})
	if err != nil {
		s.logger.WarnContext(ctx, "normative inflation unavailable", "error", err)
		return analysis.FallbackInflation()
	}
	return out
}

// Activities returns the activity log, oldest first.
func (s *Service) Activities() []Activity { return s.activity.List() }

// RunSimulation drives the society on its own: each day it enacts a norm,
// reviews it, raises citizen petitions and advances the day, then waits
// interval. days <= 0 runs until ctx is cancelled.
func (s *Service) RunSimulation(ctx context.Context, days int, interval time.Duration) error {
	for day := 0; days <= 0 || day < days; day++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		norm, err := s.CreateNorm(ctx, "")
		if err != nil {
			return fmt.Errorf("autopilot: %w", err)
		}
		if _, err := s.CheckConstitutionality(ctx, norm.ID); err != nil {
			return fmt.Errorf("autopilot: %w", err)
		}
		if _, err := s.GenerateCitizenCases(ctx); err != nil {
			return fmt.Errorf("autopilot: %w", err)
		}
		iteration, err := s.SimulateDay(ctx)
		if err != nil {
			return fmt.Errorf("autopilot: %w", err)
		}
		s.logger.InfoContext(ctx, "autopilot day complete", "iteration", iteration)

		if interval <= 0 || (days > 0 && day == days-1) {
			continue
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
