package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"caskwatch/internal/api/auth"
	"caskwatch/internal/api/middleware"
	"caskwatch/internal/api/scheduler"
	"caskwatch/internal/catalog"
	"caskwatch/internal/config"
	"caskwatch/internal/matcher"
	"caskwatch/internal/model"
	"caskwatch/internal/pkg/metrics"
	"caskwatch/internal/pkg/notify"
	"caskwatch/internal/pkg/pricecache"
	"caskwatch/internal/pkg/redisqueue"
	"caskwatch/internal/pricing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、调度器以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	rdb      *redis.Client
	router   *gin.Engine
	sched    *scheduler.Scheduler
	auth     *auth.Handler
	entities EntityService
	bottles  BottleService
	ingestor PriceIngestor
}

// EntityService 是实体目录操作的抽象，便于测试时替换。
type EntityService interface {
	CreateOrAugment(ctx context.Context, input catalog.EntityInput) (*model.Entity, catalog.EntityOutcome, error)
	GetByID(ctx context.Context, id uint) (*model.Entity, error)
	List(ctx context.Context) ([]model.Entity, error)
	Merge(ctx context.Context, rootID uint, losingIDs []uint) error
}

type BottleService interface {
	Create(ctx context.Context, input catalog.BottleInput) (*model.Bottle, error)
	List(ctx context.Context) ([]model.Bottle, error)
}

type PriceIngestor interface {
	IngestBatch(ctx context.Context, storeID uint, entries []redisqueue.PriceEntry) (*pricing.Result, error)
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 组装目录、匹配、入库与调度组件
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, redisQueue *redisqueue.Client) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Entity{},
		&model.Bottle{},
		&model.BottleDistiller{},
		&model.Store{},
		&model.StorePrice{},
		&model.ExternalSite{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)
	priceCache := pricecache.NewCache(rdb, cfg.App.PriceCacheTTL)

	ingestor := pricing.NewIngestor(db, matcher.New(db, logger), logger).
		WithPriceDropAlerts(priceCache, emailNotifier, cfg.Email.AlertEmail)

	// 创建调度器，使用配置中的 Worker Pool 参数
	sched := scheduler.NewScheduler(
		db,
		logger,
		redisQueue,
		ingestor,
		cfg.App.ScheduleInterval,
		cfg.App.WorkerPoolSize,
		cfg.App.QueueCapacity,
		cfg.App.JanitorInterval,
		cfg.App.JobTimeout,
	)

	// 初始化 Prometheus 指标
	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		sched:    sched,
		auth:     auth.NewHandler(db, cfg.Security.JWTSecret, logger),
		entities: catalog.NewEntityStore(db, logger),
		bottles:  catalog.NewBottleStore(db, logger),
		ingestor: ingestor,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// StartScheduler 启动派发循环、结果监听与僵尸任务清理。
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in scheduler dispatcher", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in result listener", slog.Any("panic", r))
			}
		}()
		if err := s.sched.StartResultListener(ctx); err != nil {
			s.logger.Error("result listener stopped", slog.String("error", err.Error()))
		}
	}()

	s.sched.StartJanitor(ctx)
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	s.router.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))

	authed.GET("/entities", s.handleListEntities)
	authed.POST("/entities", s.handleCreateEntity)
	authed.GET("/entities/:id", s.handleGetEntity)

	authed.GET("/bottles", s.handleListBottles)
	authed.POST("/bottles", s.handleCreateBottle)

	authed.GET("/stores", s.handleListStores)
	authed.GET("/stores/:id/prices", s.handleListStorePrices)

	authed.GET("/sites", s.handleListSites)

	// 以下操作改写目录结构或价格数据，仅 admin 可用
	admin := authed.Group("/")
	admin.Use(middleware.RequireAdmin())
	admin.POST("/entities/:id/merge", s.handleMergeEntities)
	admin.POST("/stores", s.handleCreateStore)
	admin.POST("/stores/:id/prices", s.handleIngestPrices)
	admin.POST("/sites", s.handleCreateSite)
	admin.PATCH("/sites/:id", s.handleUpdateSite)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func getUserID(c *gin.Context) int {
	return c.GetInt("userID")
}
