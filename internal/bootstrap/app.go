package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/msea200/clipshare/internal/handler/http"
	wsHandler "github.com/msea200/clipshare/internal/handler/websocket"
	"github.com/msea200/clipshare/internal/hub"
	"github.com/msea200/clipshare/internal/infra/llm"
	gormpersistence "github.com/msea200/clipshare/internal/infra/persistence/gorm"
	"github.com/msea200/clipshare/internal/infra/setup"
	redisstate "github.com/msea200/clipshare/internal/infra/state/redis"
	"github.com/msea200/clipshare/internal/service"
	"github.com/msea200/clipshare/internal/tasks"
	"github.com/msea200/clipshare/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config         *Config
	Log            *logrus.Logger
	DB             *gorm.DB
	RedisClient    *redis.Client
	AsynqClient    *asynq.Client
	AsynqServer    *worker.WorkerServer
	Scheduler      *asynq.Scheduler
	Hub            *hub.Hub
	HttpServer     *http.Server
	redisClientOpt asynq.RedisClientOpt
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg.AppEnv, cfg.LogLevel)
	log.Infof("Logger initialized (Level: %s, Format: %T)", log.GetLevel().String(), log.Formatter)

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := redisstate.NewRedisRoomRepository(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours, cfg.AdminEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	lifecycleService := service.NewLifecycleService(roomRepo)
	roomService := service.NewRoomService(roomRepo, lifecycleService, cfg.RoomExpiry, cfg.RoomCodeTZ)
	adminService := service.NewAdminService(roomRepo)
	collabService := service.NewCollaborationService(roomService)

	// 未配置 API key 时保持 completer 为 nil 接口，请求会返回 ErrUnconfigured
	var completer service.Completer
	if cfg.AnthropicAPIKey != "" {
		anthropicCompleter, err := llm.NewAnthropicCompleter(llm.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.ReformatModel,
			MaxTokens: cfg.ReformatMaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create reformat client: %w", err)
		}
		completer = anthropicCompleter
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, reformat proxy will answer 500")
	}
	reformatService := service.NewReformatService(completer)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(collabService, roomRepo.Bus())

	// 7. 初始化 Handlers
	handlers := Handlers{
		Auth:      httpHandler.NewAuthHandler(authService),
		Room:      httpHandler.NewRoomHandler(roomService),
		Admin:     httpHandler.NewAdminHandler(adminService),
		Reformat:  httpHandler.NewReformatHandler(reformatService),
		WebSocket: wsHandler.NewWebSocketHandler(hubInstance, roomService, cfg.CORSAllowedOrigins),
	}

	// 8. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, lifecycleService, log)

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := NewRouter(cfg, log, redisClient, authService, handlers)
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	go a.AsynqServer.Start()

	a.registerPeriodicTasks()
	a.enqueueStartupSweep()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{
		Location: a.Config.RoomCodeTZ,
		Logger:   a.Log.WithField("component", "scheduler"),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				a.Log.WithError(err).Error("Scheduler failed to enqueue room sweep")
			}
		},
	})

	// 多个实例共享同一个调度时，Unique 保证一个周期内只有一次清理
	task, err := tasks.NewRoomSweepTask(tasks.SweepReasonSchedule, time.Minute)
	if err != nil {
		a.Log.Errorf("Failed to create room sweep task: %v", err)
		return
	}

	schedule := a.Config.SweepSchedule
	entryID, err := scheduler.Register(schedule, task)
	if err != nil {
		a.Log.Errorf("Could not register periodic room sweep task: %v", err)
		return
	}
	a.Log.Infof("Periodic room sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.Scheduler = scheduler
}

// enqueueStartupSweep 启动时立即清理一次
func (a *App) enqueueStartupSweep() {
	task, err := tasks.NewRoomSweepTask(tasks.SweepReasonStartup, time.Minute)
	if err != nil {
		a.Log.Errorf("Failed to create startup sweep task: %v", err)
		return
	}
	info, err := a.AsynqClient.Enqueue(task)
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		a.Log.Debug("Startup sweep already queued by another instance")
	case err != nil:
		a.Log.WithError(err).Warn("Failed to enqueue startup sweep")
	default:
		a.Log.WithField("task_id", info.ID).Info("Startup sweep enqueued")
	}
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭 websocket 连接和频道订阅
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 3. 停止调度和 Worker
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 4. 关闭 Redis 和数据库连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}
