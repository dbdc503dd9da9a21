package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lunahealth/lumen/internal/config"
	"github.com/lunahealth/lumen/internal/insight"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	"github.com/lunahealth/lumen/internal/journal"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	"github.com/lunahealth/lumen/internal/ledger"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	"github.com/lunahealth/lumen/internal/metering"
	meteringdomain "github.com/lunahealth/lumen/internal/metering/domain"
	"github.com/lunahealth/lumen/internal/notification"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	"github.com/lunahealth/lumen/internal/observability"
	obsmiddleware "github.com/lunahealth/lumen/internal/observability/logger"
	obsmetrics "github.com/lunahealth/lumen/internal/observability/metrics"
	obstracing "github.com/lunahealth/lumen/internal/observability/tracing"
	"github.com/lunahealth/lumen/internal/providers/email"
	"github.com/lunahealth/lumen/internal/providers/llm"
	"github.com/lunahealth/lumen/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	email.Module,
	llm.Module,
	ratelimit.Module,
	ledger.Module,
	journal.Module,
	metering.Module,
	notification.Module,
	insight.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	meteringSvc     meteringdomain.Service
	ledgerSvc       ledgerdomain.Service
	journalSvc      journaldomain.Service
	notificationSvc notificationdomain.Service
	insightSvc      insightdomain.Service
	llmProvider     llm.Provider
	chargeLimiter   *ratelimit.ChargeLimiter
	locker          ratelimit.UserLocker
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	MeteringSvc     meteringdomain.Service
	LedgerSvc       ledgerdomain.Service
	JournalSvc      journaldomain.Service
	NotificationSvc notificationdomain.Service
	InsightSvc      insightdomain.Service
	LLMProvider     llm.Provider
	ChargeLimiter   *ratelimit.ChargeLimiter `optional:"true"`
	Locker          ratelimit.UserLocker
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		meteringSvc:     p.MeteringSvc,
		ledgerSvc:       p.LedgerSvc,
		journalSvc:      p.JournalSvc,
		notificationSvc: p.NotificationSvc,
		insightSvc:      p.InsightSvc,
		llmProvider:     p.LLMProvider,
		chargeLimiter:   p.ChargeLimiter,
		locker:          p.Locker,
	}
}

func registerRoutes(s *Server) {
	s.RegisterAPIRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Metering --------
	api.POST("/charge", s.ChargeRateLimit(), s.Charge)
	api.GET("/balance", s.GetBalance)
	api.GET("/ledger", s.ListLedger)

	// -------- Journal --------
	api.POST("/journal/cycles", s.RecordCycleEntry)
	api.GET("/journal/cycles", s.ListCycleEntries)
	api.POST("/journal/daily", s.RecordDailyEntry)
	api.GET("/journal/daily", s.ListDailyEntries)

	// -------- Notifications --------
	api.GET("/notifications/preferences", s.GetNotificationPreference)
	api.PUT("/notifications/preferences", s.UpdateNotificationPreference)
	api.GET("/notifications/history", s.ListNotificationHistory)

	// -------- Scheduler --------
	api.POST("/scheduler/tick", s.SchedulerTick)
}
