package nudge

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DueMode selects which cohorts a batch run dispatches.
type DueMode int

const (
	// DueAll dispatches every cohort; the caller is the trigger.
	DueAll DueMode = iota
	// DueAtTargetHour dispatches cohorts whose local hour is the target hour.
	DueAtTargetHour
	// DueInActiveWindow dispatches cohorts currently outside quiet hours.
	DueInActiveWindow
)

var dueModeNames = map[DueMode]string{
	DueAll:            "all",
	DueAtTargetHour:   "target_hour",
	DueInActiveWindow: "active_window",
}

func (m DueMode) String() string {
	if name, ok := dueModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseDueMode parses the names printed by DueMode.String. An empty name
// selects DueAll.
func ParseDueMode(name string) (DueMode, error) {
	if name == "" {
		return DueAll, nil
	}
	for mode, n := range dueModeNames {
		if n == name {
			return mode, nil
		}
	}
	return DueAll, errors.Errorf("unknown due mode %q", name)
}

type batchOptions struct {
	audience *AudienceFilter
	due      DueMode
	params   map[string]any
}

// BatchOption customizes a batch run.
type BatchOption func(*batchOptions)

// WithAudience restricts the batch to profiles matching f.
func WithAudience(f *AudienceFilter) BatchOption {
	return func(o *batchOptions) { o.audience = f }
}

// WithDue sets the due policy.
func WithDue(mode DueMode) BatchOption {
	return func(o *batchOptions) { o.due = mode }
}

// WithParams passes extra parameters to content generation for every user.
func WithParams(params map[string]any) BatchOption {
	return func(o *batchOptions) { o.params = params }
}

// PlanBatch computes the due cohorts for a batch without dispatching.
func (d *Dispatcher) PlanBatch(ctx context.Context, nudgeType string, targetLocalHour, batchSize int, opts ...BatchOption) (*BatchReport, error) {
	report, _, err := d.planBatch(ctx, nudgeType, targetLocalHour, batchSize, opts...)
	return report, err
}

// DispatchBatch dispatches nudgeType to the population grouped by timezone.
//
// One user's failure never aborts the run; it is captured in the report's
// Errors. Failing to load the population does abort it. Once ctx is done no
// new user is started and in-flight dispatches run to their terminal state.
func (d *Dispatcher) DispatchBatch(ctx context.Context, nudgeType string, targetLocalHour, batchSize int, opts ...BatchOption) (*BatchReport, error) {
	report, o, err := d.planBatch(ctx, nudgeType, targetLocalHour, batchSize, opts...)
	if err != nil {
		return nil, err
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.cfg.BatchConcurrency)
	detached := context.WithoutCancel(ctx)

	cancelled := func(userID string) {
		mu.Lock()
		report.Cancelled = append(report.Cancelled, userID)
		mu.Unlock()
	}

	total := 0
	for _, cohort := range report.Cohorts {
		for _, userID := range cohort.UserIDs {
			total++
			if ctx.Err() != nil {
				cancelled(userID)
				continue
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					cancelled(userID)
					return nil
				}
				res, err := d.dispatchIsolated(detached, userID, nudgeType, o.params)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Errors[userID] = err.Error()
				}
				if res != nil {
					res.ScheduledAt = cohort.ScheduledAt
					report.Results[userID] = res
					report.Counts[res.Outcome]++
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	d.recorder.ObserveBatch(nudgeType, total)
	d.logger.Info("nudge batch finished",
		"run_id", report.RunID,
		"nudge_type", nudgeType,
		"target_local_hour", targetLocalHour,
		"cohorts", len(report.Cohorts),
		"users", total,
		"errors", len(report.Errors),
		"cancelled", len(report.Cancelled),
	)
	return report, nil
}

func (d *Dispatcher) dispatchIsolated(ctx context.Context, userID, nudgeType string, params map[string]any) (res *DispatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.Errorf("dispatch panicked: %v", r)
		}
	}()
	return d.DispatchToUser(ctx, userID, nudgeType, params)
}

func (d *Dispatcher) planBatch(ctx context.Context, nudgeType string, targetLocalHour, batchSize int, opts ...BatchOption) (*BatchReport, *batchOptions, error) {
	if nudgeType == "" {
		return nil, nil, ErrInvalidNudgeType
	}
	if targetLocalHour < 0 || targetLocalHour > 23 {
		return nil, nil, ErrInvalidHour
	}
	if d.deps.Population == nil {
		return nil, nil, errors.New("population source is required for batch runs")
	}
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	o := &batchOptions{}
	for _, opt := range opts {
		opt(o)
	}

	now := d.now()
	report := newBatchReport(shortuuid.New(), nudgeType, targetLocalHour)

	var users []*Profile
	after := ""
	for {
		page, err := d.deps.Population.ListProfiles(ctx, after, batchSize)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to load user population")
		}
		for _, p := range page {
			if o.audience != nil {
				matched, err := o.audience.Match(p, now)
				if err != nil {
					report.Errors[p.UserID] = err.Error()
					continue
				}
				if !matched {
					continue
				}
			}
			users = append(users, p)
		}
		if len(page) < batchSize {
			break
		}
		after = page[len(page)-1].UserID
	}

	for _, cohort := range d.batcher.GroupByTimezone(users, targetLocalHour, now) {
		if d.isDue(cohort, targetLocalHour, now, o.due) {
			report.Cohorts = append(report.Cohorts, cohort)
		}
	}
	return report, o, nil
}

func (d *Dispatcher) isDue(cohort TimezoneCohort, targetLocalHour int, now time.Time, mode DueMode) bool {
	localHour := ConvertToUserTimezone(now, cohort.Timezone).Hour()
	switch mode {
	case DueAtTargetHour:
		return localHour == targetLocalHour
	case DueInActiveWindow:
		return !d.timing.IsQuietHour(localHour)
	default:
		return true
	}
}
