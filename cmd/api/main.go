package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classmark/internal/attendance"
	"classmark/internal/auth"
	"classmark/internal/code"
	"classmark/internal/config"
	"classmark/internal/export"
	"classmark/internal/geoclient"
	"classmark/internal/guard"
	"classmark/internal/httpmiddleware"
	"classmark/internal/metrics"
	"classmark/internal/queue"
	"classmark/internal/store"
	"classmark/internal/users"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	var usersRepo *users.Repository
	if db != nil {
		usersRepo = users.NewRepository(db.Client)
		if err := usersRepo.EnsureSchema(ctx); err != nil {
			log.Printf("warning: users schema: %v", err)
		}
		if err := usersRepo.EnsureTeacher(ctx, cfg.AdminUsername, cfg.AdminName, cfg.AdminPassword); err != nil {
			log.Printf("warning: teacher bootstrap: %v", err)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	cache := store.NewCache(redisClient.Client)

	var remote store.Store
	firebaseConfigured := cfg.FirebaseDatabaseURL != ""
	if firebaseConfigured {
		fb, err := store.NewFirebase(ctx, cfg.FirebaseDatabaseURL, cfg.FirebaseCredentials)
		if err != nil {
			return err
		}
		remote = fb
		log.Println("Firebase configured:", cfg.FirebaseDatabaseURL)
	} else {
		remote = store.NewMemory()
		log.Println("Firebase not configured (FIREBASE_DATABASE_URL not set), using in-memory store")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classmark:sync")
	}

	loc := cfg.Location()
	validator := code.NewValidator(cfg.CodeTTL, loc)
	g := guard.New(cfg.ProxyWindow, loc)
	repo := attendance.NewRepository(remote, cache, cfg.RemoteTimeout)
	svc := attendance.NewService(validator, g, repo, q)
	geo := geoclient.New(cfg.GeoServiceURL, cfg.GeoTimeout, cfg.GeoSkip)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "remote": firebaseConfigured})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		if usersRepo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "accounts store unavailable"})
			return
		}
		var req struct {
			Username string `json:"username" binding:"required"`
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email"`
			Course   string `json:"course" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		u, err := usersRepo.RegisterStudent(c.Request.Context(), req.Username, req.Name, req.Email, req.Course, req.Password)
		switch {
		case errors.Is(err, users.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, users.ErrPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, users.ErrRetryRegistration):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"user": u})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		if usersRepo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "accounts store unavailable"})
			return
		}
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		u, err := usersRepo.Authenticate(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, users.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		tokens, err := auth.Issue(u.Username, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"user":          u,
		})
	})

	studentGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	studentGroup.POST("/attendance", func(c *gin.Context) {
		if usersRepo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "accounts store unavailable"})
			return
		}
		var req struct {
			Code        string             `json:"code" binding:"required"`
			Fingerprint *guard.Fingerprint `json:"fingerprint"`
			Location    *guard.Location    `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims := auth.ClaimsFrom(c)
		u, err := usersRepo.GetByUsername(c.Request.Context(), claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown account"})
			return
		}

		ip := c.ClientIP()
		location := req.Location
		if location == nil {
			// IP-derived fallback; never blocks the mark.
			if res, gerr := geo.Lookup(c.Request.Context(), ip); gerr == nil {
				location = &guard.Location{Latitude: res.Latitude, Longitude: res.Longitude}
			} else {
				log.Printf("geo lookup unavailable for %s: %v", ip, gerr)
			}
		}

		result, err := svc.Mark(c.Request.Context(), attendance.MarkRequest{
			StudentID:   u.ID,
			StudentName: u.Name,
			Token:       req.Code,
			Fingerprint: req.Fingerprint,
			Location:    location,
			IPAddress:   ip,
		}, time.Now())
		if err != nil {
			status, reason := markFailure(err)
			metrics.MarkDecisions.WithLabelValues(reason).Inc()
			c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
			return
		}

		metrics.MarkDecisions.WithLabelValues("accepted").Inc()
		persistence := "ok"
		if result.Degraded {
			metrics.PersistenceDegraded.Inc()
			persistence = "degraded"
		}
		c.JSON(http.StatusCreated, gin.H{"record": result.Record, "persistence": persistence})
	})

	teacherGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher))

	teacherGroup.POST("/codes", func(c *gin.Context) {
		var req struct {
			Course string `json:"course" binding:"required"`
			Size   int    `json:"size"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		token, err := code.Issue(req.Course, now)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		png, err := code.QRPNG(token, req.Size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}

		metrics.CodesIssued.Inc()
		c.JSON(http.StatusCreated, gin.H{
			"code":       token,
			"expires_at": now.Add(cfg.CodeTTL).Unix(),
			"qr_png":     base64.StdEncoding.EncodeToString(png),
		})
	})

	teacherGroup.GET("/attendance", func(c *gin.Context) {
		course, day, err := rosterFilters(c, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, degraded, err := svc.List(c.Request.Context(), course, day)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"records": records, "count": len(records)}
		if degraded {
			metrics.PersistenceDegraded.Inc()
			resp["persistence"] = "degraded"
		}
		c.JSON(http.StatusOK, resp)
	})

	teacherGroup.GET("/attendance/export", func(c *gin.Context) {
		course, day, err := rosterFilters(c, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, _, err := svc.List(c.Request.Context(), course, day)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		data, err := export.CSV(records, loc)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+export.Filename(time.Now().In(loc))+`"`)
		c.Data(http.StatusOK, "text/csv", data)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// markFailure maps a marking error to an HTTP status and a stable
// reason label for responses and metrics.
func markFailure(err error) (int, string) {
	switch {
	case errors.Is(err, code.ErrMalformedCode):
		return http.StatusBadRequest, "malformed_code"
	case errors.Is(err, code.ErrCodeExpired):
		return http.StatusBadRequest, "code_expired"
	case errors.Is(err, code.ErrWrongDate):
		return http.StatusBadRequest, "wrong_date"
	case errors.Is(err, attendance.ErrAlreadyMarked):
		return http.StatusConflict, "already_marked"
	case errors.Is(err, attendance.ErrSuspiciousDevice):
		return http.StatusForbidden, "suspicious_device"
	case errors.Is(err, attendance.ErrPersistenceDegraded):
		return http.StatusServiceUnavailable, "persistence_unavailable"
	}
	return http.StatusInternalServerError, "error"
}

// rosterFilters parses the optional course and date query params.
func rosterFilters(c *gin.Context, loc *time.Location) (string, time.Time, error) {
	course := c.Query("course")
	var day time.Time
	if v := c.Query("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return "", time.Time{}, err
		}
		day = parsed
	}
	return course, day, nil
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
