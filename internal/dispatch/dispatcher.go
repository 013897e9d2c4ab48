// Package dispatch turns a resolved intent into a workflow trigger.
//
// A dispatch resolves the action's inputs, enforces the confirmation gate,
// consults the capability check, triggers the workflow with bounded retry,
// and appends exactly one audit record once the backend acknowledges. The
// backend is not assumed idempotent, so only failures known to precede
// execution are retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/trigger"
)

var tracer = otel.Tracer("github.com/roach88/beastmode/internal/dispatch")

// AuditSink stores audit records. Records are append-only.
type AuditSink interface {
	Append(ctx context.Context, rec ir.AuditRecord) error
}

// Authorizer is the capability check consulted before every trigger.
// Policy is external; the default allows everything.
type Authorizer interface {
	Authorize(ctx context.Context, actor, workflowID string, inputs ir.Inputs) error
}

// AllowAll is an Authorizer that permits every dispatch.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string, ir.Inputs) error { return nil }

// IDGenerator produces audit record ids.
type IDGenerator interface {
	Generate() string
}

type uuidV7 struct{}

func (uuidV7) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Observer receives one call per finished dispatch attempt sequence.
// Outcome is "ok", "confirm", "invalid", "denied", "failed" or "cancelled".
type Observer interface {
	ObserveDispatch(workflowID, outcome string, attempts int, elapsed time.Duration)
}

// Config bounds the retry policy.
type Config struct {
	// MaxAttempts includes the first try. Defaults to 3.
	MaxAttempts uint

	// InitialBackoff is the first retry delay. Defaults to 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Defaults to 5s.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Request is one dispatch.
type Request struct {
	Action ir.ActionRef
	Env    ir.Env

	SessionID string
	Actor     string

	// Confirmation is the key of a ConfirmationRequired the user has
	// answered affirmatively. It only unlocks the action with that key.
	Confirmation string
}

// Result describes an acknowledged dispatch.
type Result struct {
	WorkflowID string
	Inputs     ir.Inputs
	Key        string
	RunRef     trigger.RunRef
	AuditID    string
	Attempts   int
}

// Dispatcher executes actions against a trigger backend.
type Dispatcher struct {
	trigger  trigger.Trigger
	catalog  *catalog.Catalog
	audit    AuditSink
	auth     Authorizer
	ids      IDGenerator
	now      func() time.Time
	observer Observer
	cfg      Config
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCatalog enables typed input resolution, defaults and the destructive
// flag from the workflow catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// WithAudit sets the audit sink.
func WithAudit(sink AuditSink) Option {
	return func(d *Dispatcher) { d.audit = sink }
}

// WithAuthorizer sets the capability check.
func WithAuthorizer(a Authorizer) Option {
	return func(d *Dispatcher) { d.auth = a }
}

// WithIDGenerator sets the audit id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithNow sets the wall clock used for audit timestamps.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithConfig sets the retry policy.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// New creates a dispatcher over trig.
func New(trig trigger.Trigger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		trigger: trig,
		auth:    AllowAll{},
		ids:     uuidV7{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cfg = d.cfg.withDefaults()
	return d
}

// Resolve evaluates an action's inputs and dispatch key without
// dispatching. It reports whether the action needs confirmation.
func (d *Dispatcher) Resolve(ref ir.ActionRef, env ir.Env) (ir.Inputs, string, bool, error) {
	var wf *catalog.Workflow
	if d.catalog != nil {
		w, ok := d.catalog.Get(ref.WorkflowID)
		if !ok {
			return nil, "", false, &InputResolutionError{WorkflowID: ref.WorkflowID, Err: ErrUnknownWorkflow}
		}
		wf = w
	}

	inputs, err := ResolveInputs(ref, env, wf)
	if err != nil {
		return nil, "", false, err
	}
	key, err := ir.DispatchKey(ref.WorkflowID, inputs)
	if err != nil {
		return nil, "", false, &InputResolutionError{WorkflowID: ref.WorkflowID, Err: err}
	}
	confirm := ref.RequiresConfirmation || (wf != nil && wf.Destructive)
	return inputs, key, confirm, nil
}

// Dispatch runs req.Action.
//
// Errors:
//   - *InputResolutionError: nothing was sent.
//   - *ConfirmationRequired: the action needs an affirmative answer first;
//     retry with Request.Confirmation set to its Key.
//   - *AuthorizationError: the capability check denied the dispatch.
//   - *WorkflowTriggerError: the backend did not acknowledge.
//   - the context's error if it ended before acknowledgement.
//
// An audit record is appended only after acknowledgement. If that append
// fails, Dispatch returns the Result together with an error wrapping
// ErrAuditFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	wfID := req.Action.WorkflowID
	start := time.Now()

	ctx, span := tracer.Start(ctx, "dispatch.dispatch",
		trace.WithAttributes(
			attribute.String("workflow.id", wfID),
			attribute.String("session.id", req.SessionID),
		))
	defer span.End()

	attempts := 0
	finish := func(outcome string, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("dispatch.outcome", outcome),
			attribute.Int("dispatch.attempts", attempts),
		)
		if d.observer != nil {
			d.observer.ObserveDispatch(wfID, outcome, attempts, time.Since(start))
		}
	}

	inputs, key, needsConfirm, err := d.Resolve(req.Action, req.Env)
	if err != nil {
		finish("invalid", err)
		return nil, err
	}

	if needsConfirm && req.Confirmation != key {
		finish("confirm", nil)
		return nil, &ConfirmationRequired{WorkflowID: wfID, Inputs: inputs, Key: key}
	}

	if err := d.auth.Authorize(ctx, req.Actor, wfID, inputs); err != nil {
		err = &AuthorizationError{Actor: req.Actor, WorkflowID: wfID, Err: err}
		finish("denied", err)
		return nil, err
	}

	ref, err := d.trigger.Trigger(ctx, wfID, inputs)
	attempts = 1
	if err != nil && trigger.IsRetryable(err) && d.cfg.MaxAttempts > 1 {
		ref, err = d.retry(ctx, wfID, inputs, err, &attempts)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			finish("cancelled", ctxErr)
			return nil, fmt.Errorf("dispatch %s: %w", wfID, ctxErr)
		}
		err = &WorkflowTriggerError{WorkflowID: wfID, Attempts: attempts, Class: trigger.Classify(err), Err: err}
		finish("failed", err)
		slog.Warn("dispatch failed",
			"workflow_id", wfID,
			"session_id", req.SessionID,
			"attempts", attempts,
			"error", err)
		return nil, err
	}

	res := &Result{
		WorkflowID: wfID,
		Inputs:     inputs,
		Key:        key,
		RunRef:     ref,
		Attempts:   attempts,
	}

	if d.audit != nil {
		rec := ir.AuditRecord{
			ID:           d.ids.Generate(),
			Timestamp:    d.now(),
			SessionID:    req.SessionID,
			WorkflowID:   wfID,
			Inputs:       inputs,
			Actor:        req.Actor,
			RunReference: ref.String(),
			DispatchKey:  key,
		}
		// The backend has acknowledged; the record must be written even if
		// the turn's context ends now.
		if err := d.audit.Append(context.WithoutCancel(ctx), rec); err != nil {
			err = fmt.Errorf("%w: %v", ErrAuditFailed, err)
			finish("ok", err)
			slog.Error("audit append failed", "workflow_id", wfID, "session_id", req.SessionID, "error", err)
			return res, err
		}
		res.AuditID = rec.ID
	}

	finish("ok", nil)
	slog.Info("dispatch acknowledged",
		"workflow_id", wfID,
		"session_id", req.SessionID,
		"inputs", inputs.String(),
		"run", ref.String(),
		"attempts", attempts)
	return res, nil
}

// retry re-triggers after a not-delivered failure with exponential backoff.
// Only not-delivered failures are retried; anything else stops the loop.
func (d *Dispatcher) retry(ctx context.Context, wfID string, inputs ir.Inputs, first error, attempts *int) (trigger.RunRef, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff

	slog.Debug("dispatch not delivered, retrying", "workflow_id", wfID, "error", first)

	op := func() (trigger.RunRef, error) {
		*attempts++
		ref, err := d.trigger.Trigger(ctx, wfID, inputs)
		if err == nil {
			return ref, nil
		}
		if !trigger.IsRetryable(err) {
			return ref, backoff.Permanent(err)
		}
		slog.Debug("dispatch not delivered", "workflow_id", wfID, "attempt", *attempts, "error", err)
		return ref, err
	}

	// The first attempt already happened, so the retry budget is one less.
	ref, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxAttempts-1))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	return ref, err
}
