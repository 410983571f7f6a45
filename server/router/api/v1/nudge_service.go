package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/nudger/server/service/nudge"
)

type DispatchNudgeRequest struct {
	NudgeType string         `json:"nudgeType"`
	Params    map[string]any `json:"params,omitempty"`
}

// BatchRequest is the body of the batch and plan endpoints.
// TargetLocalHour defaults to the engine's default send hour.
type BatchRequest struct {
	NudgeType       string         `json:"nudgeType"`
	TargetLocalHour *int           `json:"targetLocalHour,omitempty"`
	BatchSize       int            `json:"batchSize,omitempty"`
	Audience        string         `json:"audience,omitempty"`
	Due             string         `json:"due,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
}

type BackoffResponse struct {
	UserID       string `json:"userId"`
	BackoffHours int    `json:"backoffHours"`
}

type SendTimeResponse struct {
	UserID   string    `json:"userId"`
	SendAt   time.Time `json:"sendAt"`
	Local    string    `json:"local"`
	Timezone string    `json:"timezone"`
}

// DispatchNudge attempts one nudge for one user.
func (s *APIV1Service) DispatchNudge(c echo.Context) error {
	userID := c.Param("id")
	var req DispatchNudgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.Dispatcher.DispatchToUser(c.Request().Context(), userID, req.NudgeType, req.Params)
	if err != nil {
		if result == nil {
			return toHTTPError(err)
		}
		// The outcome stands even when bookkeeping fails.
		slog.Error("failed to record nudge outcome",
			"user_id", userID,
			"nudge_type", req.NudgeType,
			"outcome", result.Outcome,
			"error", err,
		)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *APIV1Service) DispatchBatch(c echo.Context) error {
	return s.runBatch(c, s.Dispatcher.DispatchBatch)
}

func (s *APIV1Service) PlanBatch(c echo.Context) error {
	return s.runBatch(c, s.Dispatcher.PlanBatch)
}

type batchFunc func(ctx context.Context, nudgeType string, targetLocalHour, batchSize int, opts ...nudge.BatchOption) (*nudge.BatchReport, error)

func (s *APIV1Service) runBatch(c echo.Context, run batchFunc) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	opts, err := batchOptions(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	hour := s.Dispatcher.Timing().Config().DefaultHour
	if req.TargetLocalHour != nil {
		hour = *req.TargetLocalHour
	}

	report, err := run(c.Request().Context(), req.NudgeType, hour, req.BatchSize, opts...)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func batchOptions(req *BatchRequest) ([]nudge.BatchOption, error) {
	due, err := nudge.ParseDueMode(req.Due)
	if err != nil {
		return nil, err
	}
	opts := []nudge.BatchOption{nudge.WithDue(due)}
	if req.Audience != "" {
		filter, err := nudge.NewAudienceFilter(req.Audience)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nudge.WithAudience(filter))
	}
	if len(req.Params) > 0 {
		opts = append(opts, nudge.WithParams(req.Params))
	}
	return opts, nil
}

func (s *APIV1Service) GetBackoff(c echo.Context) error {
	userID := c.Param("id")
	hours, err := s.Dispatcher.Governor().ComputeBackoffHours(c.Request().Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, &BackoffResponse{UserID: userID, BackoffHours: hours})
}

// GetSendTime returns the optimal send instant for the local day of the
// optional "at" query parameter (RFC 3339), defaulting to now.
func (s *APIV1Service) GetSendTime(c echo.Context) error {
	userID := c.Param("id")
	ref := s.Clock()
	if at := c.QueryParam("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		}
		ref = parsed
	}

	ctx := c.Request().Context()
	sendAt, err := s.Dispatcher.OptimalSendTime(ctx, userID, ref)
	if err != nil {
		return toHTTPError(err)
	}
	p, err := s.Engagement.GetProfile(ctx, userID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, &SendTimeResponse{
		UserID:   userID,
		SendAt:   sendAt.UTC(),
		Local:    nudge.ConvertToUserTimezone(sendAt, p.Timezone).Format(time.RFC3339),
		Timezone: p.Timezone,
	})
}
