package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/nudger/store"
)

// ProfileRequest upserts a user's nudge profile. NudgesEnabled defaults to
// true and Timezone to UTC.
type ProfileRequest struct {
	Timezone        string     `json:"timezone"`
	Locale          string     `json:"locale"`
	Persona         string     `json:"persona"`
	Email           string     `json:"email"`
	PushTarget      string     `json:"pushTarget"`
	PreferredHour   *int32     `json:"preferredHour,omitempty"`
	MaxPerDay       int32      `json:"maxPerDay"`
	MaxPerWeek      int32      `json:"maxPerWeek"`
	CurrentStreak   int32      `json:"currentStreak"`
	LastActivityAt  *time.Time `json:"lastActivityAt,omitempty"`
	NudgesEnabled   *bool      `json:"nudgesEnabled,omitempty"`
	WeekendDeferral bool       `json:"weekendDeferral"`
}

type ProfileResponse struct {
	UserID          string     `json:"userId"`
	Timezone        string     `json:"timezone"`
	Locale          string     `json:"locale,omitempty"`
	Persona         string     `json:"persona,omitempty"`
	Email           string     `json:"email,omitempty"`
	PushTarget      string     `json:"pushTarget,omitempty"`
	PreferredHour   *int32     `json:"preferredHour,omitempty"`
	MaxPerDay       int32      `json:"maxPerDay"`
	MaxPerWeek      int32      `json:"maxPerWeek"`
	CurrentStreak   int32      `json:"currentStreak"`
	LastActivityAt  *time.Time `json:"lastActivityAt,omitempty"`
	NudgesEnabled   bool       `json:"nudgesEnabled"`
	WeekendDeferral bool       `json:"weekendDeferral"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type ClickRequest struct {
	NudgeType string     `json:"nudgeType"`
	At        *time.Time `json:"at,omitempty"`
}

type ClickResponse struct {
	UserID    string    `json:"userId"`
	LocalHour int       `json:"localHour"`
	At        time.Time `json:"at"`
}

func (s *APIV1Service) UpsertProfile(c echo.Context) error {
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	upsert, err := convertProfileFromRequest(c.Param("id"), &req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := s.Store.UpsertNudgeProfile(c.Request().Context(), upsert)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertProfileToResponse(p))
}

func (s *APIV1Service) GetProfile(c echo.Context) error {
	userID := c.Param("id")
	p, err := s.Store.GetNudgeProfile(c.Request().Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user "+userID+": user not found")
	}
	return c.JSON(http.StatusOK, convertProfileToResponse(p))
}

// RecordClick logs an engagement sample used by the send time computation
// and by the backoff reset.
func (s *APIV1Service) RecordClick(c echo.Context) error {
	var req ClickRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	at := s.Clock()
	if req.At != nil {
		at = *req.At
	}

	sample, err := s.Engagement.RecordClick(c.Request().Context(), c.Param("id"), req.NudgeType, at)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, &ClickResponse{
		UserID:    sample.UserID,
		LocalHour: sample.LocalHourOfClick,
		At:        sample.At.UTC(),
	})
}

func convertProfileFromRequest(userID string, req *ProfileRequest) (*store.NudgeProfile, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, errors.Errorf("unknown timezone %q", tz)
	}
	if h := req.PreferredHour; h != nil && (*h < 0 || *h > 23) {
		return nil, errors.Errorf("preferred hour must be within 0-23, got %d", *h)
	}
	if req.MaxPerDay < 0 || req.MaxPerWeek < 0 {
		return nil, errors.New("frequency caps must not be negative")
	}

	p := &store.NudgeProfile{
		UserID:          userID,
		Timezone:        tz,
		Locale:          req.Locale,
		Persona:         req.Persona,
		Email:           req.Email,
		PushTarget:      req.PushTarget,
		PreferredHour:   req.PreferredHour,
		MaxPerDay:       req.MaxPerDay,
		MaxPerWeek:      req.MaxPerWeek,
		CurrentStreak:   req.CurrentStreak,
		NudgesEnabled:   true,
		WeekendDeferral: req.WeekendDeferral,
	}
	if req.NudgesEnabled != nil {
		p.NudgesEnabled = *req.NudgesEnabled
	}
	if req.LastActivityAt != nil {
		p.LastActivityTs = req.LastActivityAt.Unix()
	}
	return p, nil
}

func convertProfileToResponse(p *store.NudgeProfile) *ProfileResponse {
	resp := &ProfileResponse{
		UserID:          p.UserID,
		Timezone:        p.Timezone,
		Locale:          p.Locale,
		Persona:         p.Persona,
		Email:           p.Email,
		PushTarget:      p.PushTarget,
		PreferredHour:   p.PreferredHour,
		MaxPerDay:       p.MaxPerDay,
		MaxPerWeek:      p.MaxPerWeek,
		CurrentStreak:   p.CurrentStreak,
		NudgesEnabled:   p.NudgesEnabled,
		WeekendDeferral: p.WeekendDeferral,
		CreatedAt:       time.Unix(p.CreatedTs, 0).UTC(),
		UpdatedAt:       time.Unix(p.UpdatedTs, 0).UTC(),
	}
	if p.LastActivityTs > 0 {
		last := time.Unix(p.LastActivityTs, 0).UTC()
		resp.LastActivityAt = &last
	}
	return resp
}
