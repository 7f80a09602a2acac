package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pasarchat/internal/adapter/api"
	"pasarchat/internal/adapter/api/handler"
	apimiddleware "pasarchat/internal/adapter/api/middleware"
	"pasarchat/internal/adapter/api/router"
	"pasarchat/internal/adapter/repository"
	domainrepo "pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/badgerdb"
	"pasarchat/internal/infrastructure/firebase"
	"pasarchat/internal/infrastructure/ratelimit"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/internal/infrastructure/websocket"
	"pasarchat/internal/usecase"
	"pasarchat/pkg/config"
	"pasarchat/pkg/logger"
)

type stores struct {
	chats    domainrepo.ChatRepository
	messages domainrepo.MessageRepository
	users    domainrepo.UserRepository
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := watch.DefaultPolicy()
	policy.MaxElapsed = cfg.WatchRetryMaxElapsed

	var verifier firebase.TokenVerifier
	var firestoreClient *firestore.Client
	if cfg.UsesFirebase() {
		opts, err := firebase.ClientOptions(cfg)
		if err != nil {
			logger.Fatal("Failed to read Firebase credentials: %v", err)
		}
		app, err := firebase.NewApp(ctx, cfg, opts...)
		if err != nil {
			logger.Fatal("%v", err)
		}
		authClient, err := app.Auth(ctx)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase Auth: %v", err)
		}
		verifier = firebase.NewFirebaseAuthClient(authClient)

		if cfg.StoreBackend == config.BackendFirestore {
			firestoreClient, err = firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
			if err != nil {
				logger.Fatal("Failed to create Firestore client: %v", err)
			}
		}
	} else {
		if !cfg.IsDevelopment() {
			logger.Fatal("FIREBASE_PROJECT_ID is required outside development")
		}
		logger.Warn("No Firebase project configured; accepting %s<uid> development tokens", firebase.DevTokenPrefix)
		verifier = firebase.NewDevTokenVerifier()
	}

	var s stores
	if firestoreClient != nil {
		s = stores{
			chats:    repository.NewFirestoreChatRepository(firestoreClient, policy),
			messages: repository.NewFirestoreMessageRepository(firestoreClient, policy),
			users:    repository.NewFirestoreUserRepository(firestoreClient),
			close:    func() { _ = firestoreClient.Close() },
		}
	} else {
		db, err := badgerdb.Open(cfg.BadgerPath, cfg.BadgerInMemory)
		if err != nil {
			logger.Fatal("Failed to open Badger store at %s: %v", cfg.BadgerPath, err)
		}
		store := repository.NewBadgerStore(db, policy)
		s = stores{
			chats:    repository.NewBadgerChatRepository(store),
			messages: repository.NewBadgerMessageRepository(store),
			users:    repository.NewBadgerUserRepository(store),
			close:    func() { _ = db.Close() },
		}
	}
	defer s.close()
	logger.Info("Using %s store", cfg.StoreBackend)

	sendLimiter := ratelimit.NewRateLimiter(map[string]ratelimit.Rule{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(cfg.SendMessagePerMinute, cfg.SendMessageBurst),
	})
	sendLimiter.StartCleanupRoutine(ctx.Done())
	httpLimiter := ratelimit.NewRateLimiter(map[string]ratelimit.Rule{
		ratelimit.ActionHTTPRequest: ratelimit.PerMinute(cfg.HTTPPerMinute, cfg.HTTPPerMinute/10+1),
	})
	httpLimiter.StartCleanupRoutine(ctx.Done())

	chatUseCase := usecase.NewChatUseCase(s.chats, s.messages, s.users, sendLimiter)

	wsManager := websocket.NewManager(chatUseCase)
	wsManager.Start(ctx)

	authMiddleware := apimiddleware.NewAuthMiddleware(verifier)
	handler.Setup(chatUseCase, wsManager, authMiddleware, cfg.AllowedOrigins(), cfg.StoreBackend)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	} else {
		e.Use(middleware.CORS())
	}
	e.Use(apimiddleware.RateLimit(httpLimiter))

	e.Validator = api.NewValidator()

	router.Setup(e, authMiddleware)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown: %v", err)
	}
}
