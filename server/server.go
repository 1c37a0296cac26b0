package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MintFM/cache"
	"MintFM/config"
	"MintFM/core/auth"
	"MintFM/core/playback"
	"MintFM/core/quality"
	"MintFM/core/royalty"
	"MintFM/db"
	"MintFM/events"
	"MintFM/logger"
	"MintFM/repository"
	"MintFM/storage"
	"MintFM/store"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.Init(cfg.JWTSecret)

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Connect to Redis
	if err := db.ConnectRedis(cfg); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer db.CloseRedis()
	log.Println("Successfully connected to Redis")

	// Connect to the track catalog
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseGormDB()
	if err := db.MigrateCatalog(); err != nil {
		log.Fatalf("Failed to migrate catalog schema: %v", err)
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(cfg); err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}
	streams, err := storage.NewStreamResolver(cfg)
	if err != nil {
		log.Fatalf("Failed to create stream resolver: %v", err)
	}

	// 装配播放引擎
	kv := store.NewRedis(db.RedisClient)
	trackRepo := repository.NewGormTrackRepository(db.GormDB)
	policy := quality.NewPolicy(cfg.PreviewSeconds)
	ledger := royalty.NewLedger(kv)
	sessions := playback.NewSessionStore(kv, cfg.SessionRetention)
	limiter := cache.NewRedisRateLimiter(db.RedisClient, cfg.StartRateLimit, cfg.RateLimitWindow)
	hub := events.NewHub()
	bus := events.NewBus(64)

	svc := playback.NewService(
		sessions,
		ledger,
		trackRepo,
		policy,
		limiter,
		streams,
		events.Multi(bus, hub),
		playback.SettingsFromConfig(cfg),
	)

	// 过期扫描与配置热更新
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go playback.NewSweeper(svc, cfg.SweepInterval).Run(ctx)

	if err := config.WatchDynamic(ctx, ".env", func(next *config.Config) {
		svc.Reconfigure(playback.SettingsFromConfig(next))
	}); err != nil {
		logger.Warn("配置热更新不可用", logger.ErrorField(err))
	}

	// 初始化处理器
	playbackHandler := NewPlaybackHandler(svc)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 播放会话相关的API端点
	router.HandleFunc("/api/playback/start", AuthMiddleware(playbackHandler.StartPlaybackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/{session_id}/progress", AuthMiddleware(playbackHandler.UpdateProgressHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/{session_id}/end", AuthMiddleware(playbackHandler.EndPlaybackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playback/history", AuthMiddleware(playbackHandler.PlayHistoryHandler)).Methods(http.MethodGet)

	// 曲目与收益相关的API端点
	router.HandleFunc("/api/tracks/{track_id}/stats", playbackHandler.TrackStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{track_id}/stream", AuthMiddleware(playbackHandler.StreamURLHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/artists/{artist_id}/earnings", playbackHandler.ArtistEarningsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/quality/{quality_id}", playbackHandler.StreamingQualityHandler).Methods(http.MethodGet)

	// 事件扇出（分析/通知等协作方消费）
	router.HandleFunc("/ws/events", hub.HandleEvents)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		log.Printf("Server starting on %s...", cfg.ServerAddr)
		log.Println("Start playback via POST to /api/playback/start")
		log.Println("Report progress via POST to /api/playback/{session_id}/progress")
		log.Println("Subscribe to domain events at /ws/events")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")
	cancel()

	// 创建一个5秒超时的上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
