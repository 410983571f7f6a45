package nudge

import (
	"math"
	"sort"
	"time"

	// Embedded zone database so containers without tzdata resolve zones.
	_ "time/tzdata"
)

const (
	DefaultSendHour        = 9
	DefaultQuietStartHour  = 23
	DefaultQuietEndHour    = 7
	DefaultWeekendDelay    = 2 * time.Hour
	DefaultLookbackDays    = 90
	DefaultLookbackSamples = 50
)

// TimingConfig tunes the send time computation.
type TimingConfig struct {
	DefaultHour     int
	QuietStartHour  int // inclusive
	QuietEndHour    int // exclusive
	WeekendDelay    time.Duration
	LookbackDays    int
	LookbackSamples int
}

// DefaultTimingConfig returns the production timing defaults.
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		DefaultHour:     DefaultSendHour,
		QuietStartHour:  DefaultQuietStartHour,
		QuietEndHour:    DefaultQuietEndHour,
		WeekendDelay:    DefaultWeekendDelay,
		LookbackDays:    DefaultLookbackDays,
		LookbackSamples: DefaultLookbackSamples,
	}
}

// TimingEngine computes the instant at which a nudge should be sent.
type TimingEngine struct {
	cfg TimingConfig
}

// NewTimingEngine creates a TimingEngine. Zero fields fall back to defaults.
func NewTimingEngine(cfg TimingConfig) *TimingEngine {
	def := DefaultTimingConfig()
	if cfg.DefaultHour <= 0 || cfg.DefaultHour > 23 {
		cfg.DefaultHour = def.DefaultHour
	}
	if cfg.QuietStartHour <= 0 || cfg.QuietStartHour > 23 {
		cfg.QuietStartHour = def.QuietStartHour
	}
	if cfg.QuietEndHour <= 0 || cfg.QuietEndHour > 23 {
		cfg.QuietEndHour = def.QuietEndHour
	}
	if cfg.WeekendDelay <= 0 {
		cfg.WeekendDelay = def.WeekendDelay
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	if cfg.LookbackSamples <= 0 {
		cfg.LookbackSamples = def.LookbackSamples
	}
	return &TimingEngine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *TimingEngine) Config() TimingConfig {
	return e.cfg
}

// Lookback is the click history window the engine reads.
func (e *TimingEngine) Lookback() time.Duration {
	return time.Duration(e.cfg.LookbackDays) * 24 * time.Hour
}

// ComputeOptimalSendTime returns the instant, on the local calendar date of
// ref, at which p should receive a nudge.
//
// The hour is the preferred hour when set, otherwise the circular mean of
// recent click hours, otherwise the default hour. It is moved out of the
// quiet window and deferred on weekends when the profile asks for it.
func (e *TimingEngine) ComputeOptimalSendTime(p *Profile, samples []EngagementSample, ref time.Time) time.Time {
	loc := ResolveLocation(p.Timezone)
	hour := e.baseHour(p, samples, ref)

	hour, days := e.clamp(hour)
	local := ref.In(loc)
	if p.WeekendDeferral && isWeekend(local.Weekday()) {
		delayed := hour + int(e.cfg.WeekendDelay/time.Hour)
		days += delayed / 24
		var extra int
		hour, extra = e.clamp(delayed % 24)
		days += extra
	}

	y, m, d := local.Date()
	return time.Date(y, m, d+days, hour, 0, 0, 0, loc)
}

func (e *TimingEngine) baseHour(p *Profile, samples []EngagementSample, ref time.Time) int {
	if p.PreferredHourLocal != nil && *p.PreferredHourLocal >= 0 && *p.PreferredHourLocal <= 23 {
		return *p.PreferredHourLocal
	}

	hours := e.lookbackHours(samples, ref)
	if mean, ok := CircularMeanHour(hours); ok {
		return mean
	}
	return e.cfg.DefaultHour
}

// lookbackHours keeps samples inside the day window, newest first, up to
// the sample limit.
func (e *TimingEngine) lookbackHours(samples []EngagementSample, ref time.Time) []int {
	cutoff := ref.Add(-e.Lookback())
	recent := make([]EngagementSample, 0, len(samples))
	for _, s := range samples {
		if s.At.IsZero() || !s.At.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].At.After(recent[j].At)
	})
	if len(recent) > e.cfg.LookbackSamples {
		recent = recent[:e.cfg.LookbackSamples]
	}

	hours := make([]int, 0, len(recent))
	for _, s := range recent {
		if s.LocalHourOfClick < 0 || s.LocalHourOfClick > 23 {
			continue
		}
		hours = append(hours, s.LocalHourOfClick)
	}
	return hours
}

// clamp moves an hour out of the quiet window, always forward. It returns
// the new hour and how many days it rolled over.
func (e *TimingEngine) clamp(hour int) (int, int) {
	if !e.inQuiet(hour) {
		return hour, 0
	}
	if hour >= e.cfg.QuietStartHour {
		return e.cfg.QuietEndHour, 1
	}
	return e.cfg.QuietEndHour, 0
}

func (e *TimingEngine) inQuiet(hour int) bool {
	if e.cfg.QuietStartHour > e.cfg.QuietEndHour {
		return hour >= e.cfg.QuietStartHour || hour < e.cfg.QuietEndHour
	}
	return hour >= e.cfg.QuietStartHour && hour < e.cfg.QuietEndHour
}

// IsQuietHour reports whether a local hour falls in the quiet window.
func (e *TimingEngine) IsQuietHour(hour int) bool {
	return e.inQuiet(hour)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// CircularMeanHour averages hours on the 24-hour circle so that 23 and 1
// average to 0 rather than 12. ok is false when there is no input or the
// hours cancel out.
func CircularMeanHour(hours []int) (int, bool) {
	if len(hours) == 0 {
		return 0, false
	}
	var sinSum, cosSum float64
	for _, h := range hours {
		angle := float64(h) * 2 * math.Pi / 24
		sinSum += math.Sin(angle)
		cosSum += math.Cos(angle)
	}
	n := float64(len(hours))
	if math.Hypot(sinSum/n, cosSum/n) < 1e-9 {
		return 0, false
	}

	mean := math.Atan2(sinSum, cosSum) * 24 / (2 * math.Pi)
	hour := int(math.Round(mean)) % 24
	if hour < 0 {
		hour += 24
	}
	return hour, true
}

// ResolveLocation loads an IANA zone, falling back to UTC for empty or
// unknown identifiers.
func ResolveLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConvertToUserTimezone expresses t in the user's zone.
func ConvertToUserTimezone(t time.Time, tz string) time.Time {
	return t.In(ResolveLocation(tz))
}

// TimezoneOffsetMinutes is the zone's UTC offset at the given instant.
// Unknown zones report 0.
func TimezoneOffsetMinutes(tz string, at time.Time) int {
	_, offset := at.In(ResolveLocation(tz)).Zone()
	return offset / 60
}

// NextLocalHour returns the next instant whose local wall clock in tz reads
// hour:00. While the local clock is still inside that hour, the start of
// the current hour is returned.
func NextLocalHour(tz string, hour int, now time.Time) time.Time {
	loc := ResolveLocation(tz)
	local := now.In(loc)
	y, m, d := local.Date()
	candidate := time.Date(y, m, d, hour, 0, 0, 0, loc)
	if candidate.Before(now) && local.Hour() != hour {
		candidate = time.Date(y, m, d+1, hour, 0, 0, 0, loc)
	}
	return candidate
}
