package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"adaptive-quiz-service/internal/adaptive"
	"adaptive-quiz-service/internal/cache"
	"adaptive-quiz-service/internal/config"
	"adaptive-quiz-service/internal/db"
	"adaptive-quiz-service/internal/event"
	"adaptive-quiz-service/internal/handlers"
	"adaptive-quiz-service/internal/repository"
	"adaptive-quiz-service/internal/selection"
	"adaptive-quiz-service/internal/service"
	"adaptive-quiz-service/internal/storage"
	"adaptive-quiz-service/pkg/discovery"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}
	cfg := config.ServiceConfig

	if err := db.InitMongo(&cfg.MongoDB); err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer db.CloseMongo()

	store := storage.NewMongoStore(db.Database, repository.Tables()...)

	// Redis-backed question cache, skipped when Redis is unreachable
	var questionCache *cache.QuestionCache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unavailable, question cache disabled: %v", err)
		} else {
			questionCache = cache.NewQuestionCache(redisClient, cfg.Redis.TTL)
			defer redisClient.Close()
		}
	}

	// RabbitMQ event publisher
	var publisher *event.Publisher
	if cfg.RabbitMQ.Enabled {
		var err error
		publisher, err = event.NewPublisher(cfg.RabbitMQ.URI, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Printf("RabbitMQ unavailable, events will not be published: %v", err)
		} else {
			defer publisher.Close()
		}
	} else {
		log.Println("RabbitMQ not configured, events will not be published")
	}

	// Repositories
	sessionRepo := repository.NewSessionRepository(store)
	questionRepo := repository.NewQuestionRepository(store)
	wrongEntryRepo := repository.NewWrongEntryRepository(store)
	progressRepo := repository.NewProgressRepository(store)
	userDifficultyRepo := repository.NewUserDifficultyRepository(store)

	// Adaptive engine
	engine := &cfg.Engine
	grader := adaptive.NewManager(engine)
	difficultyModel := adaptive.NewDifficultyModel(userDifficultyRepo, engine)
	wrongPool := selection.NewWrongPoolManager(wrongEntryRepo, engine)
	selector := selection.NewSelector(questionRepo, wrongPool, difficultyModel, engine)

	// Services
	sessionService := service.NewSessionService(sessionRepo, questionRepo, selector, wrongPool, publisher, engine)
	answerService := service.NewAnswerService(sessionService, questionRepo, progressRepo, grader, wrongPool, difficultyModel, selector, publisher)
	questionService := service.NewQuestionService(questionRepo, progressRepo, questionCache)

	sessionHandler := handlers.NewSessionHandler(sessionService, answerService)
	questionHandler := handlers.NewQuestionHandler(questionService)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "accept", "origin", "Cache-Control", "X-Requested-With", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", handlers.HealthCheck)
	setupRoutes(r, sessionHandler, questionHandler)

	// Consul registration is best effort, the service runs fine without it
	registry, err := discovery.NewServiceRegistry(cfg)
	if err != nil {
		log.Printf("Warning: service discovery init failed: %v", err)
	} else if err := registry.Register(); err != nil {
		log.Printf("Warning: Consul registration failed: %v", err)
	} else {
		defer func() {
			if err := registry.Deregister(); err != nil {
				log.Printf("Consul deregistration failed: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	log.Printf("%s listening on %s", cfg.Server.ServiceName, srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
}

func setupRoutes(r *gin.Engine, sessionHandler *handlers.SessionHandler, questionHandler *handlers.QuestionHandler) {
	protectedSession := r.Group("/protected/quizz/session")
	protectedSession.Use(handlers.RequireUser())
	{
		protectedSession.POST("/", sessionHandler.CreateSession)
		protectedSession.GET("/", sessionHandler.ListSessions)
		protectedSession.GET("/:id", sessionHandler.GetSession)
		protectedSession.POST("/:id/start", sessionHandler.StartSession)
		protectedSession.POST("/:id/pause", sessionHandler.PauseSession)
		protectedSession.POST("/:id/resume", sessionHandler.ResumeSession)
		protectedSession.POST("/:id/cancel", sessionHandler.CancelSession)
		protectedSession.POST("/:id/complete", sessionHandler.CompleteSession)
		protectedSession.GET("/:id/next", sessionHandler.NextQuestion)
		protectedSession.POST("/:id/answer", sessionHandler.SubmitAnswer)
		protectedSession.GET("/:id/progress", sessionHandler.GetProgress)
		protectedSession.GET("/:id/summary", sessionHandler.GetSummary)
	}

	// Question payloads carry correct flags, so the whole catalog stays protected.
	protectedQuestion := r.Group("/protected/quizz/question")
	protectedQuestion.Use(handlers.RequireUser())
	{
		protectedQuestion.POST("/", questionHandler.CreateQuestion)
		protectedQuestion.GET("/", questionHandler.SearchQuestions)
		protectedQuestion.GET("/:id", questionHandler.GetQuestion)
		protectedQuestion.POST("/bulk", questionHandler.ImportQuestions)
		protectedQuestion.PUT("/:id/status", questionHandler.UpdateQuestionStatus)
		protectedQuestion.POST("/:id/difficulty/recompute", questionHandler.RecomputeDifficulty)
	}
}
