package nudge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAudienceFilterRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"", "   ", "streak >", "unknown_var == 1", "streak + 1"} {
		t.Run(expr, func(t *testing.T) {
			_, err := NewAudienceFilter(expr)
			assert.Error(t, err)
		})
	}
}

func TestAudienceFilterMatch(t *testing.T) {
	now := time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expr    string
		profile *Profile
		want    bool
	}{
		{
			name:    "streak at risk",
			expr:    StreakAtRiskExpr,
			profile: &Profile{CurrentStreak: 3, LastActivityAt: now.Add(-22 * time.Hour)},
			want:    true,
		},
		{
			name:    "streak already lost",
			expr:    StreakAtRiskExpr,
			profile: &Profile{CurrentStreak: 3, LastActivityAt: now.Add(-30 * time.Hour)},
			want:    false,
		},
		{
			name:    "unknown activity never at risk",
			expr:    StreakAtRiskExpr,
			profile: &Profile{CurrentStreak: 3},
			want:    false,
		},
		{
			name:    "persona and locale",
			expr:    `persona == "SAVER" && locale.startsWith("vi")`,
			profile: &Profile{Persona: "SAVER", Locale: "vi-VN"},
			want:    true,
		},
		{
			name:    "timezone membership",
			expr:    `timezone in ["Asia/Tokyo", "Asia/Seoul"]`,
			profile: &Profile{Timezone: "Europe/Paris"},
			want:    false,
		},
		{
			name:    "enabled flag",
			expr:    "nudges_enabled",
			profile: &Profile{NudgesEnabled: true},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewAudienceFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.String())

			got, err := f.Match(tt.profile, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
