// Package content produces localized nudge copy: rule-based templates with an
// optional LLM rewrite served to a sampled fraction of sends.
package content

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/hrygo/nudger/server/service/nudge"
)

// Content variants.
const (
	VariantRuleBased = "RULE_BASED"
	VariantAI        = "AI"
)

// Rewriter produces an alternative phrasing of a rule-based nudge.
type Rewriter interface {
	Rewrite(ctx context.Context, nudgeType string, base *nudge.Content) (*nudge.Content, error)
}

// Generator implements nudge.ContentGenerator.
type Generator struct {
	catalog     *Catalog
	rewriter    Rewriter
	variantRate float64
	sample      func() float64
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRewriter serves the rewriter's output to rate (0-1) of generated nudges.
func WithRewriter(r Rewriter, rate float64) Option {
	return func(g *Generator) {
		g.rewriter = r
		g.variantRate = rate
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

func NewGenerator(catalog *Catalog, opts ...Option) *Generator {
	g := &Generator{
		catalog: catalog,
		sample:  rand.Float64,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns nil content for types the catalog does not know and when
// required params are absent.
func (g *Generator) Generate(ctx context.Context, nudgeType string, params map[string]any) (*nudge.Content, error) {
	r, err := g.catalog.render(nudgeType, params)
	if err != nil || r == nil {
		return nil, err
	}
	base := &nudge.Content{
		Title:    r.Title,
		Body:     r.Body,
		Priority: r.Priority,
		Locale:   r.Locale,
		Variant:  VariantRuleBased,
	}

	if g.rewriter == nil || g.variantRate <= 0 || g.sample() >= g.variantRate {
		return base, nil
	}
	variant, err := g.rewriter.Rewrite(ctx, nudgeType, base)
	if err != nil || variant == nil {
		g.logger.Warn("AI nudge variant failed, using rule-based copy",
			"nudge_type", nudgeType,
			"user_id", params["user_id"],
			"error", err,
		)
		return base, nil
	}
	variant.Variant = VariantAI
	return variant, nil
}
