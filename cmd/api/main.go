package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/registrar/internal/auth"
	"github.com/BradenHooton/registrar/internal/background"
	"github.com/BradenHooton/registrar/internal/cache"
	"github.com/BradenHooton/registrar/internal/config"
	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/handlers"
	"github.com/BradenHooton/registrar/internal/metrics"
	middlewareCustom "github.com/BradenHooton/registrar/internal/middleware"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/repositories"
	"github.com/BradenHooton/registrar/internal/routes"
	"github.com/BradenHooton/registrar/internal/services"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := models.DefaultRolePolicies.Validate(); err != nil {
		logger.Error("invalid role policy table", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply migrations before taking traffic
	migrator, err := database.NewMigrator(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize migrator", slog.Any("error", err))
		os.Exit(1)
	}
	if err := migrator.Up(); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrator.Close()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize redis
	redisClient, err := cache.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Metrics
	httpMetrics, err := metrics.NewHTTPMetrics(nil)
	if err != nil {
		logger.Error("failed to register http metrics", slog.Any("error", err))
		os.Exit(1)
	}
	authEvents, err := metrics.NewAuthEvents(nil)
	if err != nil {
		logger.Error("failed to register auth metrics", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	otpRepo := repositories.NewOTPRepository(db)
	activityRepo := repositories.NewActivityLogRepository(db)
	rateLimitRepo := repositories.NewRateLimitRepository(redisClient.Redis())
	sessionContextRepo := repositories.NewSessionContextRepository(redisClient.Redis())

	// Notification gateway
	var gateway services.NotificationGateway
	if cfg.Server.Env == "production" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesGateway, err := services.NewSESNotificationGateway(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Auth.OTPTTL, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email gateway", slog.Any("error", err))
			os.Exit(1)
		}
		gateway = sesGateway
	} else {
		gateway = services.NewLogNotificationGateway(logger)
	}

	// Initialize services
	auditService := services.NewAuditService(activityRepo, pkglogger.NewAuditLogger(logger), authEvents, logger)
	rateLimitService := services.NewRateLimitService(rateLimitRepo, services.DefaultRateLimitPolicies, logger)
	hasher := pkgauth.NewHasher(pkgauth.BcryptCost)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	credentialService := services.NewCredentialService(userRepo, lockoutRepo, hasher, timingDelay, auditService,
		services.CredentialConfig{
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutDuration:  cfg.Auth.LockoutDuration,
		}, nil, logger)

	otpService := services.NewOTPService(otpRepo, gateway, auth.NewHOTPCodeGenerator(), auditService,
		services.OTPConfig{
			TTL:            cfg.Auth.OTPTTL,
			ResendCooldown: cfg.Auth.OTPResendCooldown,
			MaxAttempts:    cfg.Auth.OTPMaxAttempts,
			SendTimeout:    cfg.Email.SendTimeout,
		}, nil, logger)

	sessionService := services.NewSessionService(userRepo, otpService, models.DefaultRolePolicies, auditService,
		cfg.Auth.SessionTimeout, nil, logger)

	csrfGuard := auth.NewCSRFGuard(cfg.Auth.CSRFTokenTTL, nil)

	loginService := services.NewLoginService(credentialService, otpService, sessionService, userRepo, csrfGuard,
		rateLimitService, models.DefaultRolePolicies, auditService, cfg.Auth.PendingLoginTTL, nil, logger)

	passwordResetService := services.NewPasswordResetService(userRepo, otpService, credentialService, hasher, auditService, logger)

	// Session cookie + server-side context
	sessionStore := auth.NewSessionStore(
		sessionContextRepo,
		auth.NewSessionCookieSigner(cfg.Auth.SessionSecret, cfg.Auth.SessionContextTTL, nil),
		auth.CookieConfig{
			Domain:   cfg.Auth.CookieDomain,
			Secure:   cfg.Auth.CookieSecure,
			SameSite: "lax",
		},
		cfg.Auth.SessionContextTTL,
		nil,
		logger,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(loginService, csrfGuard, models.DefaultRolePolicies, cfg.Auth.OTPResendCooldown, logger)
	passwordResetHandler := handlers.NewPasswordResetHandler(passwordResetService, cfg.Auth.OTPResendCooldown, logger)
	activityHandler := handlers.NewActivityHandler(auditService, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	// No chi RealIP: proxy headers are honoured only from TRUSTED_PROXIES, in RequestMeta.
	router.Use(middleware.RequestID)
	router.Use(httpMetrics.Handler)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:          authHandler,
		PasswordResetHandler: passwordResetHandler,
		ActivityHandler:      activityHandler,
		SessionStore:         sessionStore,
		Sessions:             sessionService,
		CSRF:                 csrfGuard,
		Limiter:              rateLimitService,
		Audit:                auditService,
		Policies:             models.DefaultRolePolicies,
		IPConfig:             pkghttp.NewIPConfig(cfg.Server.TrustedProxies),
		IPRateLimit:          middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.IPRequestsPerMinute},
		Logger:               logger,
	})

	// Health check with database and redis
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up", "redis": "up"}
		code := http.StatusOK

		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.HealthCheck(ctx); err != nil {
			status["status"], status["redis"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}

		pkghttp.WriteJSON(w, code, status)
	})
	router.Handle("/metrics", promhttp.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(otpService, lockoutRepo, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminUser creates the first admin account if ADMIN_USERNAME,
// ADMIN_EMAIL and ADMIN_PASSWORD are all set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.Hasher, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminEmail == "" || adminPassword == "" {
		logger.Info("admin bootstrap variables not set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetActiveByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Username:     adminUsername,
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		FullName:     "Administrator",
		RoleID:       models.RoleAdmin,
		IsActive:     true,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
