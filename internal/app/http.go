package app

import (
	"context"

	apphttp "github.com/yungbote/neurobridge-struggle/internal/http"
	httpH "github.com/yungbote/neurobridge-struggle/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-struggle/internal/http/middleware"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, clients Clients, svcs Services, metrics *observability.Metrics) *apphttp.Server {
	log.Info("Wiring HTTP server...")
	var auth *httpMW.AuthMiddleware
	if cfg.Auth.Enabled() {
		auth = httpMW.NewAuthMiddleware(log, cfg.Auth)
	} else {
		log.Warn("AUTH_JWT_SECRET not set; struggle API is unauthenticated")
	}

	checks := map[string]httpH.Pinger{}
	if clients.Redis != nil {
		rdb := clients.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if clients.DB != nil {
		gdb := clients.DB.DB()
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	return apphttp.NewServer(":"+cfg.Port, apphttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		AuthMiddleware:  auth,
		StruggleHandler: httpH.NewStruggleHandler(svcs.Struggle),
		RealtimeHandler: httpH.NewRealtimeHandler(log, svcs.Hub, svcs.Struggle),
		HealthHandler:   httpH.NewHealthHandler(checks),
	})
}
