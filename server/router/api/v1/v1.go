package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/nudger/internal/profile"
	"github.com/hrygo/nudger/server/service/nudge"
	"github.com/hrygo/nudger/server/service/nudgestore"
	"github.com/hrygo/nudger/store"
)

type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Dispatcher *nudge.Dispatcher
	Engagement *nudgestore.Store

	// Clock is the reference time for send-time lookups and clicks without
	// an explicit timestamp.
	Clock func() time.Time
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, dispatcher *nudge.Dispatcher, engagement *nudgestore.Store) *APIV1Service {
	return &APIV1Service{
		Profile:    profile,
		Store:      store,
		Dispatcher: dispatcher,
		Engagement: engagement,
		Clock:      time.Now,
	}
}

// RegisterRoutes registers the nudge REST endpoints with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	group := echoServer.Group("/api/v1", middleware.CORS())

	group.POST("/users/:id/nudges", s.DispatchNudge)
	group.GET("/users/:id/nudges/backoff", s.GetBackoff)
	group.GET("/users/:id/nudges/send-time", s.GetSendTime)
	group.PUT("/users/:id/profile", s.UpsertProfile)
	group.GET("/users/:id/profile", s.GetProfile)
	group.POST("/users/:id/clicks", s.RecordClick)

	group.POST("/nudges/batch", s.DispatchBatch)
	group.POST("/nudges/plan", s.PlanBatch)
}

// toHTTPError maps engine errors onto HTTP status codes.
func toHTTPError(err error) error {
	switch {
	case nudge.IsUserNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, nudge.ErrInvalidNudgeType), errors.Is(err, nudge.ErrInvalidHour):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		slog.Error("nudge api request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
