package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"priceaggregator/internal/api"
	"priceaggregator/internal/api/middleware"
	"priceaggregator/internal/metrics"
)

func (app *App) initHTTP() {
	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLoggingMiddleware(app.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/price/{code}", api.HandleGetPrice(app.prices))
	r.Get("/price/{code}/{date_time}", api.HandleGetPriceAt(app.prices))
	r.Get("/movement/{code}", api.HandleGetMovement(app.prices))
	r.Get("/currencies", api.HandleListCurrencies(app.prices))
	r.Get("/providers", api.HandleListProviders(app.prices))
	r.Get("/provider/{provider}/price/{code}", api.HandleGetProviderPrice(app.prices))
	r.Get("/provider/{provider}/price/{code}/{date_time}", api.HandleGetProviderPriceAt(app.prices))
	r.Get("/arbitrage/{code}", api.HandleGetArbitrage(app.prices))
	r.Post("/pipeline/run", api.HandleRunPipeline(app.enqueuer))

	r.Get("/healthz", api.HandleHealthz())
	ready := map[string]api.Pinger{"DB": app.db, "Asynq Redis": redisPinger(app.rdbAsynq)}
	if app.rdbCache != nil {
		ready["Cache"] = redisPinger(app.rdbCache)
	}
	r.Get("/readyz", api.HandleReadyz(ready))

	if app.cfg.Server.ServeMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	if app.cfg.Server.ServeSwagger {
		r.Get("/swagger/*", api.SwaggerUIHandler())
		r.Get("/openapi.json", api.OpenAPISpecHandler())
	}
	if app.monitor != nil {
		r.Handle(app.monitor.RootPath()+"/*", app.monitor)
	}

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func redisPinger(c *redis.Client) api.Pinger {
	return api.PingFunc(func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	})
}
