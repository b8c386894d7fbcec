package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/authz"
	"presence/internal/cloudinary"
	"presence/internal/config"
	"presence/internal/extractor"
	"presence/internal/httpmiddleware"
	"presence/internal/identity"
	"presence/internal/metrics"
	"presence/internal/queue"
	"presence/internal/recognition"
	"presence/internal/store"
	"presence/internal/token"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// galleryLoader adapts the identity repository to the recognition gallery.
type galleryLoader struct {
	repo *identity.Repository
}

func (l galleryLoader) LoadGallery(ctx context.Context) ([]recognition.Entry, error) {
	idents, err := l.repo.ListWithVectors(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]recognition.Entry, 0, len(idents))
	for _, ident := range idents {
		entries = append(entries, recognition.Entry{
			IdentityID: ident.ID,
			Vector:     recognition.Vector(ident.FaceVector),
		})
	}
	metrics.GalleryReloadsTotal.Inc()
	return entries, nil
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		log.Printf("warning: schema migration failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:outbox")
	}

	identityRepo := identity.NewRepository(db.Client)
	eventRepo := attendance.NewRepository(db.Client)

	tokens := token.NewService(cfg.JWTIssuer, cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	resets := token.NewResetter(identityRepo, cfg.ResetTTL)
	identities := identity.NewService(identityRepo, tokens, resets)

	extr := extractor.New(cfg.ExtractorURL, cfg.ExtractorSkip)
	gallery := recognition.NewGallery(galleryLoader{repo: identityRepo}, cfg.GalleryMaxAge)
	engine := recognition.NewEngine(extr, gallery, eventRepo, cfg.ConfidenceThreshold)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured; events will carry no image reference")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Cross-process gallery invalidation: other processes bump the shared
	// version counter whenever a vector changes.
	go watchGalleryVersion(rootCtx, redisClient, gallery, cfg.GalleryMaxAge)

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
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required,min=8"`
			Role     string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role, err := authz.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be 'student' or 'teacher'"})
			return
		}

		ident, pair, err := identities.Register(c.Request.Context(), req.Name, req.Email, req.Password, role)
		if err != nil {
			if errors.Is(err, identity.ErrEmailTaken) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		metrics.TokensIssuedTotal.WithLabelValues(string(token.KindAccess)).Inc()
		metrics.TokensIssuedTotal.WithLabelValues(string(token.KindRefresh)).Inc()
		c.JSON(http.StatusCreated, gin.H{
			"user":          identityJSON(ident),
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
			Role     string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role, err := authz.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email, password, or role"})
			return
		}

		ident, pair, err := identities.Login(c.Request.Context(), req.Email, req.Password, role)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email, password, or role"})
			return
		}

		metrics.TokensIssuedTotal.WithLabelValues(string(token.KindAccess)).Inc()
		metrics.TokensIssuedTotal.WithLabelValues(string(token.KindRefresh)).Inc()
		c.JSON(http.StatusOK, gin.H{
			"user":          identityJSON(ident),
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		access, exp, err := identities.Refresh(c.Request.Context(), req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}

		metrics.TokensIssuedTotal.WithLabelValues(string(token.KindAccess)).Inc()
		c.JSON(http.StatusOK, gin.H{"access_token": access, "expires_at": exp.Unix()})
	})

	r.POST("/v1/auth/reset/request", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		value, err := identities.RequestPasswordReset(c.Request.Context(), req.Email)
		if err != nil {
			log.Printf("reset request failed: %v", err)
		} else if value != "" {
			body, _ := json.Marshal(queue.ResetNotice{Email: req.Email, Value: value})
			if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypePasswordReset, Body: body}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}

		// Always acknowledged, so the response never discloses whether the
		// email belongs to an account.
		c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
	})

	r.POST("/v1/auth/reset/confirm", func(c *gin.Context) {
		var req struct {
			Token       string `json:"token" binding:"required"`
			NewPassword string `json:"new_password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := identities.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
			// NotFound, Expired, and AlreadyUsed collapse into one message.
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := r.Group("/v1", httpmiddleware.Authenticated(tokens, identityRepo))

	authGroup.GET("/auth/me", func(c *gin.Context) {
		ident, _ := httpmiddleware.CurrentIdentity(c)
		c.JSON(http.StatusOK, identityJSON(ident))
	})

	authGroup.POST("/auth/password", func(c *gin.Context) {
		var req struct {
			CurrentPassword string `json:"current_password" binding:"required"`
			NewPassword     string `json:"new_password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ident, _ := httpmiddleware.CurrentIdentity(c)
		if err := identities.ChangePassword(c.Request.Context(), ident, req.CurrentPassword, req.NewPassword); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup.POST("/attendance/mark", func(c *gin.Context) {
		image, location, ok := readImage(c)
		if !ok {
			return
		}

		var imageURL string
		if cdnClient != nil {
			if result, err := cdnClient.UploadBytes(image, "capture.jpg"); err != nil {
				log.Printf("cloudinary upload failed: %v", err)
			} else {
				imageURL = result.SecureURL
			}
		}

		evt, err := engine.Decide(c.Request.Context(), image, location, imageURL)
		if err != nil {
			switch {
			case errors.Is(err, recognition.ErrNoFaceDetected):
				metrics.DecisionsTotal.WithLabelValues(metrics.OutcomeNoFace).Inc()
				c.JSON(http.StatusBadRequest, gin.H{"error": "no face detected"})
			case errors.Is(err, recognition.ErrLowConfidence):
				metrics.DecisionsTotal.WithLabelValues(metrics.OutcomeLowConfidence).Inc()
				c.JSON(http.StatusBadRequest, gin.H{"error": "low confidence recognition"})
			default:
				metrics.DecisionsTotal.WithLabelValues(metrics.OutcomeError).Inc()
				log.Printf("attendance decision failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance decision failed"})
			}
			return
		}
		metrics.DecisionsTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

		body, _ := json.Marshal(queue.EventNotice{EventID: evt.ID})
		if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeEvent, Body: body}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"event_id":   evt.ID,
			"when":       evt.When,
			"status":     evt.Status,
			"confidence": evt.Confidence,
		})
	})

	authGroup.GET("/attendance/history/:id", func(c *gin.Context) {
		ident, _ := httpmiddleware.CurrentIdentity(c)
		targetID := c.Param("id")
		if ident.Role != authz.RoleAdmin && ident.PublicID != targetID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		target, err := identityRepo.GetByPublicID(c.Request.Context(), targetID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		from, to := timeQuery(c, "from"), timeQuery(c, "to")
		limit, offset := intQuery(c, "limit", 50), intQuery(c, "offset", 0)
		events, err := eventRepo.ListByIdentity(c.Request.Context(), target.ID, from, to, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity_id": target.PublicID, "events": eventsJSON(events)})
	})

	authGroup.POST("/faces/enroll", func(c *gin.Context) {
		image, _, ok := readImage(c)
		if !ok {
			return
		}
		ident, _ := httpmiddleware.CurrentIdentity(c)

		vectors, err := extr.Extract(c.Request.Context(), image)
		if err != nil {
			log.Printf("enrollment extraction failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "feature extraction failed"})
			return
		}
		if len(vectors) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no face detected"})
			return
		}

		if err := identityRepo.SetFaceVector(c.Request.Context(), ident.ID, vectors[0]); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment failed"})
			return
		}
		if err := redisClient.BumpGalleryVersion(c.Request.Context()); err != nil {
			log.Printf("gallery version bump failed: %v", err)
		}
		gallery.Invalidate()

		c.JSON(http.StatusOK, gin.H{"enrolled": true, "dimensions": len(vectors[0])})
	})

	authGroup.POST("/gallery/refresh", httpmiddleware.RequireRoles(authz.RoleAdmin), func(c *gin.Context) {
		if err := gallery.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
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
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// watchGalleryVersion polls the shared version counter and invalidates the
// local snapshot when another process changed a vector.
func watchGalleryVersion(ctx context.Context, redisClient *store.Redis, gallery *recognition.Gallery, interval time.Duration) {
	if interval <= 0 || interval > time.Minute {
		interval = 15 * time.Second
	}
	var last int64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v, err := redisClient.GalleryVersion(ctx)
			if err != nil {
				continue
			}
			if v != last {
				last = v
				gallery.Invalidate()
			}
		}
	}
}

// readImage pulls image bytes and an optional location from either a
// multipart form or a JSON body with base64 data. Writes the error response
// itself and returns ok=false on failure.
func readImage(c *gin.Context) (image []byte, location string, ok bool) {
	contentType := c.ContentType()
	if strings.Contains(contentType, "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return nil, "", false
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return nil, "", false
		}
		return data, c.PostForm("location"), true
	}

	var body struct {
		ImageB64 string `json:"image_b64" binding:"required"`
		Location string `json:"location"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide a multipart file or {\"image_b64\": \"...\"}"})
		return nil, "", false
	}
	raw := body.ImageB64
	if idx := strings.Index(raw, ","); idx != -1 && strings.HasPrefix(raw, "data:") {
		raw = raw[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 image"})
		return nil, "", false
	}
	return data, body.Location, true
}

func identityJSON(ident identity.Identity) gin.H {
	return gin.H{
		"id":    ident.PublicID,
		"name":  ident.Name,
		"email": ident.Email,
		"role":  string(ident.Role),
	}
}

func eventsJSON(events []attendance.Event) []gin.H {
	out := make([]gin.H, 0, len(events))
	for _, evt := range events {
		out = append(out, gin.H{
			"event_id":   evt.ID,
			"when":       evt.When,
			"method":     evt.Method,
			"status":     evt.Status,
			"confidence": evt.Confidence,
			"location":   evt.Location,
			"image_url":  evt.ImageURL,
		})
	}
	return out
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

func timeQuery(c *gin.Context, key string) time.Time {
	if v := c.Query(key); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
