// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"speedyfood/internal/config"
	httptransport "speedyfood/internal/http"
	"speedyfood/internal/infra"
	"speedyfood/internal/maps"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/location"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/modules/notify"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/modules/pricing"
	"speedyfood/internal/modules/settings"
	"speedyfood/internal/modules/tracking"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("config: %s", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	verifier, fcm := mustAuth(ctx, cfg)

	settingsSvc := settings.NewService(settings.NewStore(dbPool), cfg.Dispatch.Origin)
	pricingSvc := pricing.NewService(pricing.NewStore(dbPool))
	driverSvc := driver.NewService(driver.NewStore(dbPool), cfg.Dispatch.ETAMinutesPerKm)

	orderDeps := order.Deps{Pricing: pricingSvc, Drivers: driverSvc, Origin: settingsSvc}
	if cfg.Notify.AMQPURL != "" {
		broker, err := infra.NewAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			log.Fatalf("amqp init: %v", err)
		}
		defer broker.Close()
		orderDeps.Events = notify.NewAMQP(broker.Channel, cfg.Notify.AMQPExchange)
	}
	orderSvc := order.NewService(order.NewStore(dbPool), orderDeps)

	locationSvc := location.NewService(driverSvc, location.NewStore(dbPool, redisClient))

	matchingDeps := matching.Deps{Attempts: matching.NewStore(redisClient)}
	if fcm != nil {
		matchingDeps.Notifier = fcm
	}
	matchingSvc := matching.NewService(orderSvc, driverSvc, settingsSvc, cfg.Dispatch, matchingDeps)

	hub := tracking.NewHub()
	trackingDeps := tracking.Deps{Sinks: []tracking.Sink{hub}, ETAMinutesPerKm: cfg.Dispatch.ETAMinutesPerKm}
	if cfg.Telegram.Token != "" {
		bot, err := infra.NewTelegram(cfg.Telegram.Token)
		if err != nil {
			log.Fatal(err)
		}
		trackingDeps.Sinks = append(trackingDeps.Sinks, tracking.NewTelegramSink(bot, cfg.Tracking.MaxLivePeriod))
	}
	if cfg.Maps.APIKey != "" {
		geocoder, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal(err)
		}
		trackingDeps.Addresser = geocoder
	}
	trackingSvc := tracking.NewService(orderSvc, driverSvc, cfg.Tracking, trackingDeps)
	defer trackingSvc.Close()

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:    orderSvc,
		Driver:   driverSvc,
		Matching: matchingSvc,
		Location: locationSvc,
		Pricing:  pricingSvc,
		Settings: settingsSvc,
		Tracking: trackingSvc,
		Hub:      hub,
		Verifier: verifier,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go matchingSvc.RunScheduler(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()

	log.Printf("http: listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// mustAuth builds the token verifier. A shared JWT secret wins over Firebase;
// the Firebase app also backs FCM assignment pushes when enabled.
func mustAuth(ctx context.Context, cfg config.Config) (infra.TokenVerifier, *notify.FCM) {
	var fcm *notify.FCM
	var verifier infra.TokenVerifier

	if cfg.Auth.FirebaseProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentials)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		if cfg.Notify.FCMEnabled {
			client, err := infra.NewMessaging(ctx, app)
			if err != nil {
				log.Fatalf("fcm init: %v", err)
			}
			fcm = notify.NewFCM(client)
		}
		if cfg.Auth.JWTSecret == "" {
			verifier, err = infra.NewFirebaseVerifier(ctx, app)
			if err != nil {
				log.Fatalf("firebase auth: %v", err)
			}
		}
	}
	if cfg.Auth.JWTSecret != "" {
		v, err := infra.NewJWTVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			log.Fatalf("jwt init: %v", err)
		}
		verifier = v
	}
	return verifier, fcm
}
