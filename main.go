package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neighborhood-resolver/config"
	"neighborhood-resolver/controllers"
	"neighborhood-resolver/ledger"
	"neighborhood-resolver/logger"
	"neighborhood-resolver/middlewares"
	"neighborhood-resolver/models"
	"neighborhood-resolver/notify"
	"neighborhood-resolver/realtime"
	"neighborhood-resolver/repository"
	"neighborhood-resolver/routes"
	"neighborhood-resolver/scheduler"
	"neighborhood-resolver/storage"
	"neighborhood-resolver/workflow"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger.Init(cfg.IsProduction(), log.Fields{"service": "neighborhood-resolver"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Errorf("mongo disconnect: %v", err)
		}
	}()

	if err := ensureIndexes(ctx, db); err != nil {
		log.Fatalf("indexes: %v", err)
	}

	redisClient, err := config.ConnectRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	var blobs storage.BlobStore
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCS(ctx, cfg.GCSBucket)
		if err != nil {
			log.Fatalf("blob storage: %v", err)
		}
		defer gcs.Close()
		blobs = gcs
	} else {
		log.Warn("GCS_BUCKET not set, issue images are disabled")
	}

	var sender notify.Sender = notify.Noop{}
	if cfg.FirebaseCredentials != "" {
		fcm, err := notify.NewFCM(ctx, cfg.FirebaseCredentials)
		if err != nil {
			log.Fatalf("push notifications: %v", err)
		}
		sender = fcm
	} else {
		log.Warn("GOOGLE_APPLICATION_CREDENTIALS not set, push notifications are disabled")
	}

	users := repository.NewUsers(db)
	profiles := repository.NewProfiles(db)
	issues := repository.NewIssues(db, profiles, blobs)
	points := ledger.New(db)
	broker := realtime.NewBroker(redisClient)

	engine := workflow.NewEngine(issues, points, users, broker, notify.NewStatusNotifier(profiles, sender), workflow.Config{
		DefaultPoints: cfg.PointsPerResolution,
		MaxPoints:     cfg.MaxAwardPoints,
	})

	if _, err := scheduler.Start(ctx, cfg.AwardRetrySpec, engine); err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.Use(cors.New(corsConfig(cfg)))

	routes.AuthRoutes(r, controllers.NewAuthController(users, profiles, cfg), cfg.JWTSecret)
	routes.IssueRoutes(r, controllers.NewIssueController(issues, engine, broker), cfg.JWTSecret,
		middlewares.IssueRateLimiter(redisClient, cfg.IssueLimitPrefix, cfg.IssueDailyLimit))
	routes.UserRoutes(r, controllers.NewUserController(profiles, points), controllers.NewVoucherController(points, broker), cfg.JWTSecret)
	routes.EventRoutes(r, controllers.NewEventController(broker), cfg.JWTSecret)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.WithField("port", cfg.Port).Info("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	if err := models.EnsureUserIndex(ctx, db.Collection(repository.UsersCollection)); err != nil {
		return err
	}
	if err := models.EnsureIssueIndexes(ctx, db.Collection(repository.IssuesCollection)); err != nil {
		return err
	}
	return models.EnsureRedemptionIndex(ctx, db.Collection(ledger.RedemptionsCollection))
}

func corsConfig(cfg config.Config) cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}
	return corsCfg
}
