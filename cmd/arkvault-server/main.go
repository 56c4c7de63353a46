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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/config"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/database"
	"github.com/84adam/arkvault/handlers"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/models"
	"github.com/84adam/arkvault/monitoring"
	"github.com/84adam/arkvault/utils"
)

const (
	maintenanceInterval = time.Hour
	eventRetentionDays  = 90
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitLogging(&logging.LogConfig{
		LogDir:     cfg.Logging.Directory,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		LogLevel:   logging.ParseLogLevel(cfg.Server.LogLevel),
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	dsn := cfg.Database.Path
	if cfg.Database.Driver == database.DriverRqlite {
		dsn = database.RqliteDSN(cfg.Database.RqliteNodes, cfg.Database.RqliteUser, cfg.Database.RqlitePass)
	}
	db, err := database.Open(cfg.Database.Driver, dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	pakeKey := cfg.Security.OpaqueServerKey
	ephemeralKey := pakeKey == ""
	if ephemeralKey {
		if utils.IsProductionEnvironment() {
			log.Fatalf("OPAQUE_SERVER_KEY is required in production")
		}
		if pakeKey, err = auth.GeneratePakeServerKey(); err != nil {
			log.Fatalf("Failed to generate OPAQUE server key: %v", err)
		}
		logging.WarningLogger.Printf("OPAQUE_SERVER_KEY not set, using an ephemeral key: existing registrations will not verify after a restart")
	}

	totpKey, err := crypto.ParseTOTPMasterKey(cfg.Security.TOTPMasterKey)
	if err != nil {
		log.Fatalf("Invalid TOTP_MASTER_KEY: %v", err)
	}

	entitySecret := []byte(cfg.Security.EntityIDSecret)
	if len(entitySecret) == 0 {
		if entitySecret, err = crypto.DeriveKeyHKDF([]byte(cfg.Security.JWTSecret), "arkvault/logging/entity-id"); err != nil {
			log.Fatalf("Failed to derive entity ID secret: %v", err)
		}
	}
	entityIDs, err := logging.NewEntityIDService(entitySecret)
	if err != nil {
		log.Fatalf("Failed to initialize entity IDs: %v", err)
	}
	events := logging.NewSecurityEventLogger(db, entityIDs, eventRetentionDays)

	server, err := handlers.NewServer(db, handlers.Options{
		PakeServerKey:                  pakeKey,
		TOTPMasterKey:                  totpKey,
		JWTSecret:                      cfg.Security.JWTSecret,
		JWTExpiry:                      cfg.JWTExpiry(),
		SessionTTL:                     cfg.SessionTTL(),
		RevokeSessionsOnPasswordChange: cfg.Security.RevokeSessionsOnPasswordChange,
		SecurityEvents:                 events,
		RateLimit:                      cfg.Security.RateLimitPerSecond,
		HealthChecks: []monitoring.HealthChecker{
			&monitoring.KeyHealthCheck{
				EphemeralPakeKey: ephemeralKey,
				TOTPMasterKey:    totpKey,
				TOTPKeyLength:    crypto.TOTPMasterKeyLength,
			},
			&monitoring.SystemHealthCheck{},
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'",
	}))
	server.RegisterRoutes(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runMaintenance(ctx, db, server.TOTP(), events, entityIDs)

	if err := events.LogSecurityEvent(logging.EventSystemStartup, nil, nil, map[string]interface{}{
		"driver": cfg.Database.Driver,
	}); err != nil {
		logging.ErrorLogger.Printf("Failed to record startup event: %v", err)
	}

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logging.InfoLogger.Printf("Listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorLogger.Printf("Failed to start server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Printf("Shutdown failed: %v", err)
	}
}

// runMaintenance prunes expired sessions, TOTP replay records, old security
// events and entity ID keys until ctx is cancelled.
func runMaintenance(ctx context.Context, db models.Execer, totp *auth.TOTPService, events *logging.SecurityEventLogger, entityIDs *logging.EntityIDService) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := models.DeleteExpiredSessions(db); err != nil {
			logging.ErrorLogger.Printf("Session cleanup failed: %v", err)
		} else if n > 0 {
			logging.InfoLogger.Printf("Removed %d expired sessions", n)
		}
		if err := totp.CleanupUsageLog(); err != nil {
			logging.ErrorLogger.Printf("TOTP cleanup failed: %v", err)
		}
		if err := events.CleanupOldEvents(); err != nil {
			logging.ErrorLogger.Printf("Security event cleanup failed: %v", err)
		}
		entityIDs.CleanupOldWindows(eventRetentionDays)
	}
}
