// recovery.go: Error reporting and strategy-driven automatic recovery
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// ErrorRecord is one reported error and the recovery work done on it.
type ErrorRecord struct {
	ID                  string         `json:"id"`
	Component           string         `json:"component"`
	Category            ErrorCategory  `json:"category"`
	Severity            ErrorSeverity  `json:"severity"`
	Message             string         `json:"message"`
	Context             map[string]any `json:"context,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	Resolved            bool           `json:"resolved"`
	ResolvedAt          time.Time      `json:"resolved_at,omitempty"`
	ResolutionMethod    string         `json:"resolution_method,omitempty"`
	AttemptedStrategies []string       `json:"attempted_strategies,omitempty"`
}

// Condition is a predicate a strategy applies to an error record before
// volunteering for it. Field is a dotted path: top-level record fields
// ("component", "message") or context entries ("context.memoryUsage").
//
// Operators:
//   - "exists": the field resolves to a non-nil value
//   - "equals": string rendering of the field equals the value's
//   - "greater_than": both sides parse as numbers and field > value
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// RecoveryActions is the set of remedial operations a strategy may ask
// the runtime to perform. The runtime implements it; tests substitute
// fakes.
type RecoveryActions interface {
	// RetryComponent re-runs the component's failed operation.
	RetryComponent(ctx context.Context, component string) error

	// ReloadComponent unregisters and re-registers the component.
	ReloadComponent(ctx context.Context, component string) error

	// RollbackComponent downgrades the component to its most recent
	// rollback point.
	RollbackComponent(ctx context.Context, component string) error
}

// RecoveryAction performs one remedial step. A strategy succeeds when
// every one of its actions returns nil, in order.
type RecoveryAction func(ctx context.Context, record *ErrorRecord, actions RecoveryActions) error

// BackoffStrategy selects the delay curve between strategy retries.
type BackoffStrategy string

const (
	// BackoffLinear delays baseDelay * attempt before each retry
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential delays baseDelay * 2^(attempt-1) before each retry
	BackoffExponential BackoffStrategy = "exponential"
)

// BackoffDelay computes the delay before retry attempt n (1-based).
// Linear grows as baseDelay*n, exponential as baseDelay*2^(n-1). An
// unknown strategy falls back to linear.
func BackoffDelay(strategy BackoffStrategy, baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if strategy == BackoffExponential {
		return baseDelay * time.Duration(1<<(attempt-1))
	}
	return baseDelay * time.Duration(attempt)
}

// RecoveryStrategy describes when and how to recover from a class of
// errors.
//
// Empty Categories or Severities match everything in that dimension;
// conditions must all hold. Lower Priority runs earlier. Actions run in
// order and all must succeed; a failed run is re-attempted with the
// configured backoff, up to MaxRetries total attempts.
type RecoveryStrategy struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Priority   int              `json:"priority"`
	Categories []ErrorCategory  `json:"categories,omitempty"`
	Severities []ErrorSeverity  `json:"severities,omitempty"`
	Conditions []Condition      `json:"conditions,omitempty"`
	MaxRetries int              `json:"max_retries,omitempty"`
	Backoff    BackoffStrategy  `json:"backoff,omitempty"`
	BaseDelay  time.Duration    `json:"base_delay,omitempty"`
	Timeout    time.Duration    `json:"timeout,omitempty"`
	Actions    []RecoveryAction `json:"-"`
}

// RecoveryStats summarizes the subsystem's record log.
type RecoveryStats struct {
	TotalReported int64                   `json:"total_reported"`
	TotalResolved int64                   `json:"total_resolved"`
	Unresolved    int                     `json:"unresolved"`
	ByCategory    map[ErrorCategory]int64 `json:"by_category"`
}

// RecoverySubsystem keeps a bounded log of reported errors and runs
// matching recovery strategies against them.
//
// Strategies execute in ascending priority order; the first one whose
// action returns nil resolves the record and stops the chain. Every
// attempted strategy is recorded on the record for audit.
type RecoverySubsystem struct {
	config  RecoveryConfig
	actions RecoveryActions
	bus     *EventBus
	logger  Logger

	mu         sync.RWMutex
	records    []*ErrorRecord
	byID       map[string]*ErrorRecord
	strategies map[string]*RecoveryStrategy

	totalReported int64
	totalResolved int64
}

// NewRecoverySubsystem creates a recovery subsystem. The actions
// implementation supplies the remedial operations strategies can use.
func NewRecoverySubsystem(config RecoveryConfig, actions RecoveryActions, bus *EventBus, logger Logger) *RecoverySubsystem {
	if logger == nil {
		logger = DefaultLogger()
	}
	if config.MaxRecords <= 0 {
		config.MaxRecords = 100
	}
	return &RecoverySubsystem{
		config:     config,
		actions:    actions,
		bus:        bus,
		logger:     logger,
		byID:       make(map[string]*ErrorRecord),
		strategies: make(map[string]*RecoveryStrategy),
	}
}

// RegisterStrategy adds a strategy. ID and Action are required;
// registering an existing ID replaces the previous definition.
func (r *RecoverySubsystem) RegisterStrategy(strategy RecoveryStrategy) error {
	if strategy.ID == "" {
		return NewInvalidStrategyError("id is required")
	}
	if len(strategy.Actions) == 0 {
		return NewInvalidStrategyError("at least one action is required")
	}
	for _, action := range strategy.Actions {
		if action == nil {
			return NewInvalidStrategyError("actions must not be nil")
		}
	}
	switch strategy.Backoff {
	case "", BackoffLinear, BackoffExponential:
	default:
		return NewInvalidStrategyError("unknown backoff strategy " + strconv.Quote(string(strategy.Backoff)))
	}
	for _, cond := range strategy.Conditions {
		switch cond.Operator {
		case "exists", "equals", "greater_than":
		default:
			return NewInvalidStrategyError("unknown condition operator " + strconv.Quote(cond.Operator))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strategy.ID] = &strategy
	return nil
}

// RemoveStrategy deletes a strategy by ID.
func (r *RecoverySubsystem) RemoveStrategy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, id)
}

// Report appends an error record to the log and, when auto-recovery is
// enabled, immediately runs matching strategies against it. The record
// is returned so callers can inspect the recovery outcome.
func (r *RecoverySubsystem) Report(ctx context.Context, component string, category ErrorCategory,
	severity ErrorSeverity, message string, errContext map[string]any) *ErrorRecord {
	record := &ErrorRecord{
		ID:        uuid.NewString(),
		Component: component,
		Category:  category,
		Severity:  severity,
		Message:   message,
		Context:   errContext,
		Timestamp: timecache.CachedTime(),
	}

	r.mu.Lock()
	r.records = append(r.records, record)
	r.byID[record.ID] = record
	r.totalReported++
	// FIFO eviction keeps the log bounded
	for len(r.records) > r.config.MaxRecords {
		evicted := r.records[0]
		r.records = r.records[1:]
		delete(r.byID, evicted.ID)
	}
	r.mu.Unlock()

	r.logger.Warn("Error reported",
		"error_id", record.ID, "component", component,
		"category", string(category), "severity", severity.String(), "message", message)
	r.publish(EventErrorReported, component, map[string]any{
		"error_id": record.ID,
		"category": string(category),
		"severity": severity.String(),
		"message":  message,
	})

	if r.config.AutoRecover {
		r.attemptRecovery(ctx, record)
	}
	return record
}

// Recover manually runs recovery for a recorded error.
func (r *RecoverySubsystem) Recover(ctx context.Context, recordID string) error {
	r.mu.RLock()
	record, ok := r.byID[recordID]
	r.mu.RUnlock()
	if !ok {
		return NewNoStrategyError(recordID)
	}
	if record.Resolved {
		return nil
	}
	return r.attemptRecovery(ctx, record)
}

// attemptRecovery runs matching strategies in ascending priority order
// until one succeeds.
func (r *RecoverySubsystem) attemptRecovery(ctx context.Context, record *ErrorRecord) error {
	matches := r.matchingStrategies(record)
	if len(matches) == 0 {
		r.logger.Debug("No recovery strategy matches", "error_id", record.ID)
		return NewNoStrategyError(record.ID)
	}

	var lastErr error
	for _, strategy := range matches {
		r.mu.Lock()
		record.AttemptedStrategies = append(record.AttemptedStrategies, strategy.ID)
		r.mu.Unlock()

		err := r.runStrategy(ctx, strategy, record)
		if err == nil {
			now := timecache.CachedTime()
			r.mu.Lock()
			record.Resolved = true
			record.ResolvedAt = now
			record.ResolutionMethod = strategy.ID
			r.totalResolved++
			r.mu.Unlock()

			r.logger.Info("Error recovered",
				"error_id", record.ID, "component", record.Component, "strategy", strategy.ID)
			r.publish(EventErrorRecovered, record.Component, map[string]any{
				"error_id": record.ID,
				"strategy": strategy.ID,
			})
			return nil
		}

		lastErr = NewStrategyFailedError(strategy.ID, err)
		r.logger.Warn("Recovery strategy failed",
			"error_id", record.ID, "strategy", strategy.ID, "error", err)
	}
	return lastErr
}

// runStrategy executes a strategy's action chain, retrying with
// backoff until the retry budget or the strategy timeout is spent.
func (r *RecoverySubsystem) runStrategy(ctx context.Context, strategy *RecoveryStrategy, record *ErrorRecord) error {
	if strategy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strategy.Timeout)
		defer cancel()
	}

	attempts := strategy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := BackoffDelay(strategy.Backoff, strategy.BaseDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = r.runActions(ctx, strategy, record); err == nil {
			return nil
		}
	}
	return err
}

// runActions runs the ordered action chain; the first failure aborts it.
func (r *RecoverySubsystem) runActions(ctx context.Context, strategy *RecoveryStrategy, record *ErrorRecord) error {
	for _, action := range strategy.Actions {
		if err := action(ctx, record, r.actions); err != nil {
			return err
		}
	}
	return nil
}

// matchingStrategies returns the strategies applicable to a record,
// sorted by ascending priority with ID as the tie breaker.
func (r *RecoverySubsystem) matchingStrategies(record *ErrorRecord) []*RecoveryStrategy {
	r.mu.RLock()
	var matches []*RecoveryStrategy
	for _, strategy := range r.strategies {
		if strategyMatches(strategy, record) {
			matches = append(matches, strategy)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority < matches[j].Priority
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

func strategyMatches(strategy *RecoveryStrategy, record *ErrorRecord) bool {
	if len(strategy.Categories) > 0 && !containsCategory(strategy.Categories, record.Category) {
		return false
	}
	if len(strategy.Severities) > 0 && !containsSeverity(strategy.Severities, record.Severity) {
		return false
	}
	for _, cond := range strategy.Conditions {
		if !conditionHolds(cond, record) {
			return false
		}
	}
	return true
}

// conditionHolds evaluates one condition against a record.
func conditionHolds(cond Condition, record *ErrorRecord) bool {
	value, found := resolveField(cond.Field, record)
	switch cond.Operator {
	case "exists":
		return found && value != nil
	case "equals":
		return found && fmt.Sprint(value) == fmt.Sprint(cond.Value)
	case "greater_than":
		if !found {
			return false
		}
		left, okL := toFloat(value)
		right, okR := toFloat(cond.Value)
		return okL && okR && left > right
	default:
		return false
	}
}

// resolveField looks up a dotted field path on the record. Paths
// starting with "context." descend into the context map.
func resolveField(field string, record *ErrorRecord) (any, bool) {
	switch field {
	case "component":
		return record.Component, true
	case "category":
		return string(record.Category), true
	case "severity":
		return record.Severity.String(), true
	case "message":
		return record.Message, true
	}

	if !strings.HasPrefix(field, "context.") {
		return nil, false
	}
	var current any = record.Context
	for _, part := range strings.Split(strings.TrimPrefix(field, "context."), ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func containsCategory(set []ErrorCategory, category ErrorCategory) bool {
	for _, c := range set {
		if c == category {
			return true
		}
	}
	return false
}

func containsSeverity(set []ErrorSeverity, severity ErrorSeverity) bool {
	for _, s := range set {
		if s == severity {
			return true
		}
	}
	return false
}

// Record returns a copy of the record with the given ID.
func (r *RecoverySubsystem) Record(id string) (ErrorRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if record, ok := r.byID[id]; ok {
		return *record, true
	}
	return ErrorRecord{}, false
}

// Records returns copies of all retained records, oldest first.
func (r *RecoverySubsystem) Records() []ErrorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ErrorRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, *record)
	}
	return out
}

// Unresolved returns copies of all records not yet resolved.
func (r *RecoverySubsystem) Unresolved() []ErrorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ErrorRecord
	for _, record := range r.records {
		if !record.Resolved {
			out = append(out, *record)
		}
	}
	return out
}

// Stats summarizes reporting and resolution counts.
func (r *RecoverySubsystem) Stats() RecoveryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RecoveryStats{
		TotalReported: r.totalReported,
		TotalResolved: r.totalResolved,
		ByCategory:    make(map[ErrorCategory]int64),
	}
	for _, record := range r.records {
		stats.ByCategory[record.Category]++
		if !record.Resolved {
			stats.Unresolved++
		}
	}
	return stats
}

func (r *RecoverySubsystem) publish(t EventType, component string, data map[string]any) {
	if r.bus != nil {
		r.bus.Publish(Event{Type: t, Plugin: component, Data: data})
	}
}
