package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"coderoom/backend/config"
	"coderoom/backend/internal/cache"
	"coderoom/backend/internal/directory"
	"coderoom/backend/internal/filesync"
	"coderoom/backend/internal/httpapi/handlers"
	"coderoom/backend/internal/httpapi/middleware"
	"coderoom/backend/internal/store"
	"coderoom/backend/internal/syncqueue"
	"coderoom/backend/internal/transport"
	"coderoom/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%s kafka=%v", cfg.Running.Port, cfg.Redis.Addr, cfg.Kafka.Brokers)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	gdb, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// 房间目录走裸 database/sql，文件存储走 gorm，各用各的连接
	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	// Kafka 本地队列 + worker 重试发送
	dispatcher := filesync.NewEventDispatcher(
		producer,
		cfg.Kafka.Topic,
		filesync.EventDispatcherOptions{
			QueueSize:          10_000,
			Workers:            4,
			MaxRetry:           3,
			BaseBackoff:        50 * time.Millisecond,
			MaxBackoff:         1 * time.Second,
			MaxConcurrentSends: 64,
		},
	)
	defer dispatcher.Close()

	bus := transport.NewRedisBus(rdb)
	fileStore := store.NewMySQLFileStore(gdb)
	fileCache := cache.NewFileCache(rdb)
	files := filesync.NewService(fileStore, fileCache, bus, dispatcher)
	dir := directory.NewMySQLDirectory(db)

	queueOpt := syncqueue.Options{
		MaxRetry:     cfg.Queue.MaxRetry,
		BaseBackoff:  time.Duration(cfg.Queue.BaseBackoff) * time.Millisecond,
		MaxBackoff:   time.Duration(cfg.Queue.MaxBackoff) * time.Millisecond,
		FlushDelay:   time.Duration(cfg.Queue.FlushDelay) * time.Millisecond,
		FlushTimeout: time.Duration(cfg.Queue.FlushTimeout) * time.Millisecond,
	}

	hub := ws.NewHub()
	manager := ws.NewManager(dir, bus, files, queueOpt)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		// 允许任意来源（包含 file:// 场景的 Origin: null）；比 AllowOrigins:["*"] 更兼容
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		// token 都放 Authorization，不依赖 Cookie
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	// 路由：ws 和 REST 都挂同一套身份中间件
	v1 := r.Group("/v1")
	v1.Use(middleware.Identity(cfg.Auth.Secret))
	v1.GET("/ws", func(c *gin.Context) { manager.WebSocketConnect(c, hub) })
	handlers.NewFileHandler(files).Register(v1)
	handlers.NewRoomHandler(dir, files, hub).Register(v1)

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
