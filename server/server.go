package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hrygo/nudger/internal/logging"
	"github.com/hrygo/nudger/internal/profile"
	"github.com/hrygo/nudger/plugin/cron"
	"github.com/hrygo/nudger/server/metrics"
	apiv1 "github.com/hrygo/nudger/server/router/api/v1"
	"github.com/hrygo/nudger/server/service/nudge"
	"github.com/hrygo/nudger/server/service/nudgestore"
	"github.com/hrygo/nudger/store"
)

// healthService is the service name reported by the gRPC health server.
const healthService = "nudger"

// Evening reminders go out at this local hour.
const eveningReminderHour = 19

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	grpcServer   *grpc.Server
	healthServer *health.Server
	scheduler    *cron.Scheduler
	dispatcher   *nudge.Dispatcher
	metrics      *metrics.PrometheusExporter
	logger       *slog.Logger
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	logger := logging.FromContext(ctx)
	s := &Server{
		Store:   store,
		Profile: profile,
		metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		logger:  logger,
	}

	engagement := nudgestore.New(store)
	dispatcher, err := BuildDispatcher(profile, store, engagement, s.metrics, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build nudge dispatcher")
	}
	s.dispatcher = dispatcher

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": profile.Version})
	})
	echoServer.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	apiV1Service := apiv1.NewAPIV1Service(profile, store, dispatcher, engagement)
	apiV1Service.RegisterRoutes(echoServer)

	s.healthServer = health.NewServer()
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)

	if profile.CronEnabled {
		s.scheduler = cron.New(logger, time.UTC)
		if err := s.registerJobs(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// registerJobs schedules the recurring nudge batches. Each job fires
// hourly in UTC and dispatches only to the cohorts whose local clock is due.
func (s *Server) registerJobs() error {
	sendHour := s.dispatcher.Timing().Config().DefaultHour

	streakAtRisk, err := nudge.NewAudienceFilter(nudge.StreakAtRiskExpr)
	if err != nil {
		return err
	}

	jobs := []struct {
		name string
		spec string
		job  cron.Job
	}{
		{
			name: "daily-tip",
			spec: s.Profile.DailyTipSchedule,
			job:  s.batchJob(nudge.TypeDailyTip, sendHour, nudge.WithDue(nudge.DueAtTargetHour)),
		},
		{
			name: "streak-check",
			spec: s.Profile.StreakCheckSchedule,
			job:  s.batchJob(nudge.TypeStreakWarning, sendHour, nudge.WithAudience(streakAtRisk), nudge.WithDue(nudge.DueInActiveWindow)),
		},
		{
			name: "evening-reminder",
			spec: s.Profile.EveningSchedule,
			job:  s.batchJob(nudge.TypeEveningReminder, eveningReminderHour, nudge.WithDue(nudge.DueAtTargetHour)),
		},
	}
	for _, j := range jobs {
		if j.spec == "" {
			s.logger.Info("scheduled job disabled", "job", j.name)
			continue
		}
		if err := s.scheduler.Register(j.name, j.spec, j.job); err != nil {
			return errors.Wrapf(err, "failed to schedule %s", j.name)
		}
	}
	return nil
}

func (s *Server) batchJob(nudgeType string, targetLocalHour int, opts ...nudge.BatchOption) cron.Job {
	return func(ctx context.Context) {
		if _, err := s.dispatcher.DispatchBatch(ctx, nudgeType, targetLocalHour, s.Profile.BatchSize, opts...); err != nil {
			s.logger.Error("scheduled nudge batch failed", "nudge_type", nudgeType, "error", err)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.echoServer.Listener = listener
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start echo server", "error", err)
		}
	}()

	if s.Profile.GRPCPort > 0 {
		grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.GRPCPort))
		if err != nil {
			return errors.Wrap(err, "failed to listen for grpc")
		}
		go func() {
			if err := s.grpcServer.Serve(grpcListener); err != nil {
				s.logger.Error("failed to start grpc server", "error", err)
			}
		}()
	}
	s.healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Info("nudge scheduler started", "jobs", s.scheduler.Names())
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s.logger.Info("server shutting down")
	s.healthServer.Shutdown()

	// Stop triggering batches and let in-flight ones settle first.
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Error("failed to stop scheduler gracefully", "error", err)
		}
	}

	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown echo server", "error", err)
	}
	s.grpcServer.GracefulStop()

	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close database", "error", err)
	}
	s.logger.Info("server stopped properly")
}

// Dispatcher returns the engine the server drives.
func (s *Server) Dispatcher() *nudge.Dispatcher {
	return s.dispatcher
}
