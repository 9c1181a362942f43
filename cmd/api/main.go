package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/broadcast"
	"classattend/internal/config"
	"classattend/internal/directory"
	"classattend/internal/httpmiddleware"
	"classattend/internal/qr"
	"classattend/internal/session"
	"classattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub()
	var broadcaster broadcast.Broadcaster = hub
	if cfg.BroadcastBackend == "redis" {
		broadcaster = broadcast.NewRedisRelay(ctx, redisClient.Client, hub)
	}

	dir := directory.New(db.Client)
	sessionRepo := session.NewPostgresRepository(db.Client)
	sessions := session.NewService(sessionRepo, dir, cfg.QRExpiryMinutes, cfg.QRBaseURL)
	attendanceRepo := attendance.NewPostgresRepository(db.Client)
	records := attendance.NewService(attendanceRepo, sessionRepo, dir, dir, dir, broadcaster)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ident, err := dir.FindByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": "unknown user"})
			return
		}

		tokens, err := auth.Issue(ident.ID, string(ident.Role), cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/sessions/:id/activate", func(c *gin.Context) {
		var req struct {
			DurationMinutes int `json:"duration_minutes"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		activated, err := sessions.Activate(c.Request.Context(), c.Param("id"), auth.Caller(c), req.DurationMinutes)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, activated)
	})

	authGroup.POST("/sessions/:id/deactivate", func(c *gin.Context) {
		sess, err := sessions.Deactivate(c.Request.Context(), c.Param("id"), auth.Caller(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	authGroup.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := sessions.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	// QR image of the active session's scan URL. The token rides in the URL,
	// never the student identity.
	authGroup.GET("/sessions/:id/qr", func(c *gin.Context) {
		sess, err := sessions.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		ok, err := dir.IsTeacherOrAdminFor(c.Request.Context(), auth.Caller(c), sess.SubjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
			return
		}
		if !sess.IsActive || sess.Token == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "session is not active"})
			return
		}
		png, err := qr.PNG(cfg.QRBaseURL+*sess.Token, qr.DefaultSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	authGroup.POST("/attendance/scan", func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		att, err := records.RecordScan(c.Request.Context(), req.Token, auth.Caller(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, att)
	})

	authGroup.GET("/sessions/:id/attendance", func(c *gin.Context) {
		list, err := records.ForSession(c.Request.Context(), c.Param("id"), auth.Caller(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": list})
	})

	authGroup.GET("/students/:id/attendance", func(c *gin.Context) {
		list, err := records.ForStudent(c.Request.Context(), c.Param("id"), auth.Caller(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": list})
	})

	authGroup.GET("/subjects/:id/statistics", func(c *gin.Context) {
		stats, err := records.Statistics(c.Request.Context(), c.Param("id"), auth.Caller(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	// Live attendance for one session as server-sent events. Opening the
	// stream joins the session's room; closing the connection leaves every
	// room the subscriber was in.
	authGroup.GET("/sessions/:id/live", func(c *gin.Context) {
		sessionID := c.Param("id")
		sess, err := sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		ok, err := dir.IsTeacherOrAdminFor(c.Request.Context(), auth.Caller(c), sess.SubjectID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
			return
		}

		sub := hub.NewSubscriber(16)
		hub.Join(sub, sessionID)
		defer hub.Remove(sub)

		c.Stream(func(w io.Writer) bool {
			select {
			case evt, open := <-sub.Events():
				if !open {
					return false
				}
				c.SSEvent(broadcast.EventName, evt)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, attendance.ErrInvalidToken),
		errors.Is(err, directory.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrUnauthorized),
		errors.Is(err, attendance.ErrUnauthorized),
		errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusForbidden
	case errors.Is(err, session.ErrAlreadyActive),
		errors.Is(err, session.ErrNotYetActivatable),
		errors.Is(err, session.ErrWindowElapsed),
		errors.Is(err, attendance.ErrSessionInactive),
		errors.Is(err, attendance.ErrTokenExpired),
		errors.Is(err, attendance.ErrAlreadyRecorded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
