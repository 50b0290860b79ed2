package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/common/database"
	"github.com/Folokee/SASSI-Microservices/internal/common/logger"
	commonredis "github.com/Folokee/SASSI-Microservices/internal/common/redis"
	"github.com/Folokee/SASSI-Microservices/internal/ews/cache"
	"github.com/Folokee/SASSI-Microservices/internal/ews/config"
	"github.com/Folokee/SASSI-Microservices/internal/ews/consumer"
	httpapi "github.com/Folokee/SASSI-Microservices/internal/ews/http"
	"github.com/Folokee/SASSI-Microservices/internal/ews/projector"
	"github.com/Folokee/SASSI-Microservices/internal/ews/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ews/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sassi-ews")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 数据库连接（带重试，等待数据库拉起）
	db, err := database.Connect(ctx, &cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 4. 事件总线（Redis 不可达且为开发环境时降级为内存总线）
	var eventBus bus.EventBus
	var rmCache *cache.ReadModelCache
	if redisClient, err := commonredis.Connect(ctx, &cfg.Redis); err != nil {
		if cfg.Env != "development" {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		log.Warn("Redis unreachable, falling back to in-memory bus", zap.Error(err))
		eventBus = bus.NewMemoryBus(log)
	} else {
		defer commonredis.Close(redisClient)
		eventBus = bus.NewRedisBus(redisClient, &cfg.Bus, log)
		rmCache = cache.NewReadModelCache(cache.NewRedisKVStore(redisClient), log)
	}
	defer eventBus.Close()

	// 5. 组装服务
	eventStore := repository.NewEventStore(db, log)
	consensusStore := repository.NewConsensusStore(db, log)
	rmRepo := repository.NewReadModelRepository(db, log)
	proj := projector.NewProjector(rmRepo, eventStore, log)

	commands := service.NewCommandService(eventStore, eventBus, log)
	queries := service.NewQueryService(eventStore, consensusStore, rmRepo, rmCache, log)

	// 6. ews.calculated 消费者（评分共识）
	calcConsumer := consumer.NewCalculatedConsumer(
		eventBus, eventStore, consensusStore, proj, rmRepo, rmCache, log,
	)
	consumerErrChan := make(chan error, 1)
	go func() {
		if err := calcConsumer.Start(ctx); err != nil {
			consumerErrChan <- err
		}
	}()

	// 7. HTTP 服务
	handler := httpapi.NewHandler(commands, queries, log)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("EWS service listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 8. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Fatal("HTTP server error", zap.Error(err))
	case err := <-consumerErrChan:
		log.Fatal("Consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	cancel()

	log.Info("EWS service stopped")
}
