package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/evhome/chargepilot/internal/app"
	"github.com/evhome/chargepilot/internal/config"
	"github.com/evhome/chargepilot/internal/engine"
	"github.com/evhome/chargepilot/internal/feed"
	"github.com/evhome/chargepilot/internal/griddata"
	"github.com/evhome/chargepilot/internal/httpapi"
	"github.com/evhome/chargepilot/internal/mqtt"
	"github.com/evhome/chargepilot/internal/settings"
	"github.com/evhome/chargepilot/internal/tesla"
	"github.com/evhome/chargepilot/internal/tokens"
	"github.com/evhome/chargepilot/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg := parseFlags()
	logger := setupLogger(cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":      version,
		"device_id":    cfg.DeviceID,
		"decision_int": cfg.DecisionInterval,
		"refresh_int":  cfg.RefreshInterval,
		"listen":       cfg.ListenAddr,
	}).Info("Starting chargepilot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Persistence ----------------------------------------------------------------
	tokenStore := tokens.NewStore(cfg.TokenFile, logger)
	settingsStore := settings.NewStore(cfg.SettingsFile, logger)

	// Core clients ---------------------------------------------------------------
	teslaClient := tesla.NewClient(
		tokenStore.TeslaCredentials(),
		logger,
		tesla.WithBaseURL(cfg.TeslaBaseURL),
		tesla.WithAuthURL(cfg.TeslaAuthURL),
		tesla.WithTimeout(cfg.GetAPITimeout()),
	)
	teslaClient.OnTokenRefresh(func(creds tesla.Credentials) {
		if err := tokenStore.SaveTeslaCredentials(creds); err != nil {
			logger.WithError(err).Error("Persisting refreshed token failed")
		}
	})

	gridClient := griddata.NewClient(tokenStore.GridToken(), logger)
	waker := tesla.NewWakeCoordinator(teslaClient, logger)

	decisionEngine := engine.New(teslaClient, settingsStore, gridClient, logger)
	dataFeed := feed.New()

	// MQTT publisher (optional) --------------------------------------------------
	var publisher *transmission.Publisher
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)
		publisher = transmission.NewPublisher(mqttClient, logger)
		logger.Info("MQTT publisher ready")
	}

	// HTTP API -------------------------------------------------------------------
	handler := httpapi.NewHandler(
		teslaClient, waker, gridClient,
		settingsStore, tokenStore, dataFeed,
		cfg.GridZone, logger,
	)
	handler.OnTeslaToken(teslaClient.SetCredentials)
	handler.OnGridToken(gridClient.SetAuthToken)
	server := httpapi.NewServer(cfg.ListenAddr, handler, logger)

	service := app.New(cfg, decisionEngine, teslaClient, gridClient, settingsStore, dataFeed, logger)

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return server.Run(ctx)
	})
	grp.Go(func() error {
		service.Run(ctx, publisher)
		return nil
	})
	if err := grp.Wait(); err != nil && err != context.Canceled {
		logger.WithError(err).Error("chargepilot exited with error")
	}
	logger.Info("chargepilot stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() *config.Config {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.StringVar(&cfg.TeslaBaseURL, "tesla-base-url", getEnv("CHARGEPILOT_TESLA_BASE_URL", cfg.TeslaBaseURL), "Vehicle API base URL")
	flag.StringVar(&cfg.TeslaAuthURL, "tesla-auth-url", getEnv("CHARGEPILOT_TESLA_AUTH_URL", cfg.TeslaAuthURL), "OAuth token endpoint")
	flag.StringVar(&cfg.GridZone, "grid-zone", getEnv("CHARGEPILOT_GRID_ZONE", cfg.GridZone), "Electricity Maps zone for history queries")
	flag.StringVar(&cfg.SettingsFile, "settings-file", getEnv("CHARGEPILOT_SETTINGS_FILE", cfg.SettingsFile), "Vehicle settings JSON file")
	flag.StringVar(&cfg.TokenFile, "token-file", getEnv("CHARGEPILOT_TOKEN_FILE", cfg.TokenFile), "API token JSON file")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("CHARGEPILOT_LISTEN_ADDR", cfg.ListenAddr), "HTTP API listen address")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("CHARGEPILOT_MQTT_URL", cfg.MQTTUrl), "MQTT broker URL (empty disables publishing)")
	flag.StringVar(&cfg.DeviceID, "device-id", getEnv("CHARGEPILOT_DEVICE_ID", cfg.DeviceID), "Device identifier for MQTT topics")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("CHARGEPILOT_VERBOSE", "false") == "true", "Verbose logging")

	apiTimeoutStr := flag.String("api-timeout", getEnv("CHARGEPILOT_API_TIMEOUT", ""), "Vehicle API timeout in seconds")
	decisionIntervalStr := flag.String("decision-interval", getEnv("CHARGEPILOT_DECISION_INTERVAL", ""), "Charge decision interval (e.g. 15m)")
	refreshIntervalStr := flag.String("refresh-interval", getEnv("CHARGEPILOT_REFRESH_INTERVAL", ""), "Feed refresh interval (e.g. 15m)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("chargepilot %s\n", version)
		os.Exit(0)
	}

	if *apiTimeoutStr != "" {
		if v, err := strconv.Atoi(*apiTimeoutStr); err == nil && v > 0 {
			cfg.APITimeout = v
		}
	}
	if d := parseInterval(*decisionIntervalStr); d > 0 {
		cfg.DecisionInterval = d
	}
	if d := parseInterval(*refreshIntervalStr); d > 0 {
		cfg.RefreshInterval = d
	}

	return cfg
}

// parseInterval accepts a duration string ("15m") or bare seconds ("900").
func parseInterval(s string) time.Duration {
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 0
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
