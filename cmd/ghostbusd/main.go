package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ghostbus/internal/auth"
	"ghostbus/internal/config"
	"ghostbus/internal/detect"
	"ghostbus/internal/fanout"
	"ghostbus/internal/geo"
	"ghostbus/internal/gtfs"
	"ghostbus/internal/ingest"
	"ghostbus/internal/pipeline"
	"ghostbus/internal/state"
	"ghostbus/internal/store"
	transporthttp "ghostbus/internal/transport/http"
	transportkafka "ghostbus/internal/transport/kafka"
)

func main() {
	log := logrus.New()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using system environment")
	}
	cfg := config.Load()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// External collaborators are optional: the live classification path keeps
	// running without them, just with reduced durability.
	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, mirroring disabled")
		redisStore = nil
	}
	defer redisStore.Close()

	var db *store.TimescaleStore
	if cfg.DBEnabled {
		db, err = store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("timescaledb unavailable, anomaly log disabled")
			db = nil
		}
		defer db.Close()
	}

	loader := gtfs.NewLoader(cfg.GTFSDir, log)
	if cfg.GTFSDir != "" {
		if err := loader.LoadAll(); err != nil {
			log.WithError(err).Warn("gtfs reference data unavailable")
		} else {
			cacheRoutes(ctx, loader, redisStore, log)
		}
	}

	thresholds := detect.DefaultThresholds()
	thresholds.StaleSeconds = cfg.StaleSeconds
	thresholds.StationarySeconds = cfg.StationarySeconds
	thresholds.StationaryDistanceM = cfg.StationaryDistanceM
	thresholds.SpikeFactor = cfg.SpeedSpikeFactor
	thresholds.DropFactor = cfg.SpeedDropFactor
	thresholds.DropMinMean = cfg.SpeedDropMinMean
	thresholds.MinSpeedSamples = cfg.MinSpeedSamples
	thresholds.Geofence = geo.BoundingBox{
		MinLat: cfg.GeofenceMinLat,
		MaxLat: cfg.GeofenceMaxLat,
		MinLon: cfg.GeofenceMinLon,
		MaxLon: cfg.GeofenceMaxLon,
	}

	vehicles := state.NewStore(detect.NewDetector(thresholds), cfg.HistoryCapacity)
	fan := fanout.NewManager(vehicles.All, cfg.SubscriberQueueSize, log)
	defer fan.Close()

	dispatcher := pipeline.NewDispatcher(cfg.MirrorChannelSize, cfg.AlertChannelSize)
	svc := ingest.NewService(vehicles, fan, dispatcher, log)

	authenticator := auth.NewAuthenticator(cfg, redisStore)
	server := transporthttp.NewServer(svc, fan, loader, transporthttp.NewAuthMiddleware(authenticator), log)

	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     server.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pipeline.NewMirrorWriter(dispatcher.MirrorChan, redisStore, db, log).Run(gctx)
		return nil
	})
	g.Go(func() error {
		pipeline.NewAnomalyWriter(dispatcher.AlertChan, db, redisStore, log).Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.WithField("port", cfg.HTTPPort).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer := transportkafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, svc, log)
		g.Go(func() error {
			defer consumer.Close()
			log.WithField("topic", cfg.KafkaTopic).Info("kafka consumer started")
			return consumer.Run(gctx)
		})
	}

	if cfg.RetentionSeconds > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					now := float64(time.Now().UnixNano()) / float64(time.Second)
					if n := vehicles.Reap(now, cfg.RetentionSeconds); n > 0 {
						log.WithField("removed", n).Info("reaped expired vehicles")
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("service terminated")
	}
	log.Info("shutdown complete")
}

// cacheRoutes mirrors the loaded route rows into the reference cache.
func cacheRoutes(ctx context.Context, loader *gtfs.Loader, redisStore *store.RedisStore, log *logrus.Logger) {
	for _, route := range loader.Routes() {
		row := map[string]interface{}{
			"route_id":         route.RouteID,
			"route_short_name": route.RouteShortName,
			"route_long_name":  route.RouteLongName,
			"route_type":       route.RouteType,
			"route_color":      route.RouteColor,
		}
		if err := redisStore.CacheRoute(ctx, route.RouteID, row); err != nil {
			log.WithField("route_id", route.RouteID).WithError(err).Warn("route cache failed")
			return
		}
	}
}
