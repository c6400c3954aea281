package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Toolset is the fixed set of tools one session may call.
type Toolset struct {
	audience Audience
	registry *Registry
	names    []string
	allowed  map[string]bool
}

// Audience returns who the toolset was built for.
func (t *Toolset) Audience() Audience {
	return t.audience
}

// Names returns the tool names in manifest order.
func (t *Toolset) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether name is part of the toolset.
func (t *Toolset) Has(name string) bool {
	return t.allowed[name]
}

// Specs returns the engine-facing declarations in manifest order.
func (t *Toolset) Specs() []Spec {
	specs := make([]Spec, 0, len(t.names))
	for _, name := range t.names {
		def, _, raw := t.registry.lookup(name)
		if def == nil {
			continue
		}
		specs = append(specs, Spec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: raw,
		})
	}
	return specs
}

// Dispatch runs one tool call. It always returns a Result.
func (t *Toolset) Dispatch(ctx context.Context, name string, args map[string]interface{}) (res Result) {
	ctx, span := tracing.StartSpan(ctx, "panbeh.tools", "tools.dispatch",
		attribute.String("tool.name", name),
		attribute.String("tool.audience", string(t.audience)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, t.registry.logger)

	if !t.Has(name) {
		logger.Warn().Str("tool", name).Msg("Engine requested a tool outside the manifest")
		span.SetStatus(codes.Error, UnknownFunctionDetail)
		return Fail(UnknownFunctionDetail, genericFailure(name))
	}

	def, schema, _ := t.registry.lookup(name)
	if def == nil {
		logger.Error().Str("tool", name).Msg("Tool vanished from registry")
		return Fail(UnknownFunctionDetail, genericFailure(name))
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	params := Args(args)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("tool", name).Interface("panic", r).Msg("Tool handler panicked")
			res = Fail(fmt.Sprintf("tool %s panicked: %v", name, r), genericFailure(name))
		}

		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, res.OK)
		span.SetAttributes(attribute.Bool("tool.ok", res.OK))
		if !res.OK {
			span.SetStatus(codes.Error, res.Detail)
		}

		if def.Mutating {
			status := "success"
			if !res.OK {
				status = "failure"
			}
			observability.RecordToolAudit(ctx, name, actorFor(ctx, params), status, map[string]interface{}{
				"args":   args,
				"detail": res.Detail,
			})
		}

		logger.Debug().
			Str("tool", name).
			Bool("ok", res.OK).
			Dur("duration", duration).
			Msg("Tool dispatched")
	}()

	if err := validateArgs(schema, params); err != nil {
		logger.Warn().Str("tool", name).Err(err).Msg("Tool arguments rejected")
		return Fail(fmt.Sprintf("parameter validation failed: %v", err), genericFailure(name))
	}

	res = def.Handler(ctx, params)
	if res.Summary == "" {
		if res.OK {
			res.Summary = fmt.Sprintf("%s completed.", name)
		} else {
			res.Summary = genericFailure(name)
		}
	}
	return res
}

func actorFor(ctx context.Context, args Args) string {
	if u := subject(ctx, args); u != "" {
		return u
	}
	return "guest"
}

// subject is the account a tool acts on. The session's identified user
// overrides whatever userName the engine supplied.
func subject(ctx context.Context, args Args) string {
	if actor := tracing.GetActor(ctx); actor != "" {
		return actor
	}
	return args.String("userName")
}
