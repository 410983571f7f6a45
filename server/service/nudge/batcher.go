package nudge

import (
	"sort"
	"time"
)

// TimezoneBatcher partitions users into cohorts sharing a timezone.
type TimezoneBatcher struct{}

// GroupByTimezone groups users by their raw timezone identifier, with an
// empty identifier counted as UTC. Members keep input order and cohorts are
// ordered by identifier. Offsets and
// scheduled instants are computed for targetLocalHour relative to ref.
func (TimezoneBatcher) GroupByTimezone(users []*Profile, targetLocalHour int, ref time.Time) []TimezoneCohort {
	index := make(map[string]int)
	var cohorts []TimezoneCohort
	for _, u := range users {
		if u == nil {
			continue
		}
		tz := u.Timezone
		if tz == "" {
			tz = "UTC"
		}
		i, ok := index[tz]
		if !ok {
			i = len(cohorts)
			index[tz] = i
			cohorts = append(cohorts, TimezoneCohort{
				Timezone:      tz,
				OffsetMinutes: TimezoneOffsetMinutes(tz, ref),
				ScheduledAt:   NextLocalHour(tz, targetLocalHour, ref),
			})
		}
		cohorts[i].UserIDs = append(cohorts[i].UserIDs, u.UserID)
	}

	sort.SliceStable(cohorts, func(i, j int) bool {
		return cohorts[i].Timezone < cohorts[j].Timezone
	})
	return cohorts
}
