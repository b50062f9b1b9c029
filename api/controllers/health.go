package controllers

import (
	"net/http"

	"github.com/pesapoints/pesapoints-backend/api/responses"
	"github.com/pesapoints/pesapoints-backend/pkg/config"
	"github.com/pesapoints/pesapoints-backend/pkg/db"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
	"github.com/pesapoints/pesapoints-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PesaPoints-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the datastores answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, database db.Pinger, redisClient redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PesaPoints-Env", cfg.App.Env)
		ctx := r.Context()

		checks := map[string]string{}
		healthy := true

		if database != nil {
			if err := database.Ping(ctx); err != nil {
				checks["database"] = "unreachable"
				healthy = false
				if logg != nil {
					logg.Error(ctx, "database ping failed", err)
				}
			} else {
				checks["database"] = "ok"
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = "unreachable"
				healthy = false
				if logg != nil {
					logg.Error(ctx, "redis ping failed", err)
				}
			} else {
				checks["redis"] = "ok"
			}
		}

		if !healthy {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
