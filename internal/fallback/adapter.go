package fallback

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/beastmode/internal/catalog"
	"github.com/roach88/beastmode/internal/ir"
	"github.com/roach88/beastmode/internal/patterns"
)

var tracer = otel.Tracer("github.com/roach88/beastmode/internal/fallback")

// HelpReply is shown when the generative service cannot be reached.
const HelpReply = "I'm not sure how to help with that, and I can't reach my language model right now. " +
	"Try a specific command such as \"create 3 tenants\", \"sync users\" or \"start new-project\"."

// Outcome is the adapter's answer to one unmatched input.
type Outcome struct {
	Reply string

	// Proposal is a draft for the learning coordinator: status pending,
	// no id yet. Nil when the model named no known workflow.
	Proposal *ir.Proposal

	// Degraded is set when the service was unreachable and Reply is the
	// canned help text.
	Degraded bool
}

// Adapter turns unmatched input into a reply and, possibly, a proposal.
type Adapter struct {
	completer Completer
	catalog   *catalog.Catalog
}

// NewAdapter creates an adapter. A nil completer makes every outcome
// degraded.
func NewAdapter(c Completer, cat *catalog.Catalog) *Adapter {
	return &Adapter{completer: c, catalog: cat}
}

// Handle asks the model about input. Service failures are not errors: the
// outcome is degraded instead. Only a done context is returned as an error.
func (a *Adapter) Handle(ctx context.Context, input, topic string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "fallback.handle",
		trace.WithAttributes(attribute.String("session.topic", topic)))
	defer span.End()

	if a.completer == nil {
		span.SetAttributes(attribute.Bool("fallback.degraded", true))
		return &Outcome{Reply: HelpReply, Degraded: true}, nil
	}

	comp, err := a.completer.Complete(ctx, input, Context{Topic: topic, Workflows: a.catalog.List()})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fallback: %w", ctxErr)
		}
		slog.Warn("generative service unavailable", "error", err)
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("fallback.degraded", true))
		return &Outcome{Reply: HelpReply, Degraded: true}, nil
	}

	out := &Outcome{Reply: comp.Text}
	if in := comp.Intent; in != nil {
		if a.catalog.Has(in.Workflow) {
			t := in.Topic
			if t == "" {
				t = topic
			}
			out.Proposal = &ir.Proposal{
				Pattern:     in.Pattern,
				Topic:       patterns.NormalizeTopic(t),
				Workflow:    in.Workflow,
				SourceInput: input,
				Slots:       in.Slots,
				Reply:       comp.Text,
				Status:      ir.ProposalPending,
			}
			span.SetAttributes(attribute.String("workflow.id", in.Workflow))
		} else {
			slog.Debug("model named unknown workflow", "workflow_id", in.Workflow)
		}
	}
	if out.Reply == "" {
		out.Reply = "I don't have a pattern for that yet."
	}
	return out, nil
}
