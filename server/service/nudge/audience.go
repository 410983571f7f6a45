package nudge

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// StreakAtRiskExpr selects users whose streak lapses within the next few
// hours: active 20 to 24 hours ago with a running streak.
const StreakAtRiskExpr = "streak > 0 && hours_since_activity >= 20.0 && hours_since_activity < 24.0"

// AudienceFilter is a compiled CEL predicate over a user profile.
//
// Variables: user_id, timezone, locale, persona (string), streak (int),
// hours_since_activity (double, negative when unknown), nudges_enabled (bool).
type AudienceFilter struct {
	expr    string
	program cel.Program
}

// NewAudienceFilter compiles expr. It must evaluate to a bool.
func NewAudienceFilter(expr string) (*AudienceFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty audience expression")
	}

	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("timezone", cel.StringType),
		cel.Variable("locale", cel.StringType),
		cel.Variable("persona", cel.StringType),
		cel.Variable("streak", cel.IntType),
		cel.Variable("hours_since_activity", cel.DoubleType),
		cel.Variable("nudges_enabled", cel.BoolType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	celAST, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid audience expression: %s", expr)
	}
	if !reflect.DeepEqual(celAST.OutputType(), cel.BoolType) {
		return nil, errors.Errorf("audience expression must be boolean, got %s", celAST.OutputType())
	}

	program, err := env.Program(celAST)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build CEL program")
	}
	return &AudienceFilter{expr: expr, program: program}, nil
}

// String returns the source expression.
func (f *AudienceFilter) String() string {
	return f.expr
}

// Match evaluates the filter for p at now.
func (f *AudienceFilter) Match(p *Profile, now time.Time) (bool, error) {
	hours := -1.0
	if !p.LastActivityAt.IsZero() {
		hours = now.Sub(p.LastActivityAt).Hours()
	}

	out, _, err := f.program.Eval(map[string]any{
		"user_id":              p.UserID,
		"timezone":             p.Timezone,
		"locale":               p.Locale,
		"persona":              p.Persona,
		"streak":               int64(p.CurrentStreak),
		"hours_since_activity": hours,
		"nudges_enabled":       p.NudgesEnabled,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate audience for user %s", p.UserID)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("audience expression returned %T", out.Value())
	}
	return matched, nil
}
