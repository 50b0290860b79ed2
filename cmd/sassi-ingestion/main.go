package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/database"
	"github.com/Folokee/SASSI-Microservices/internal/common/logger"
	commonmqtt "github.com/Folokee/SASSI-Microservices/internal/common/mqtt"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/config"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/ews"
	httpapi "github.com/Folokee/SASSI-Microservices/internal/ingestion/http"
	ingestmqtt "github.com/Folokee/SASSI-Microservices/internal/ingestion/mqtt"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/repository"
	"github.com/Folokee/SASSI-Microservices/internal/ingestion/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sassi-ingestion")
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

	// 4. 组装服务
	readingsRepo := repository.NewReadingsRepository(db, log)
	consensusRepo := repository.NewConsensusRepository(db, log)
	ewsClient := ews.NewClient(cfg.EWSServiceURL, log)
	ingestion := service.NewIngestionService(readingsRepo, consensusRepo, ewsClient, log)

	// 5. MQTT 接入（配置了 broker 时启用）
	if cfg.MQTTEnabled {
		mqttClient, err := commonmqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mqttClient.Disconnect()

		consumer := ingestmqtt.NewConsumer(mqttClient, ingestion, log)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("MQTT consumer stopped with error", zap.Error(err))
			}
		}()
		defer consumer.Stop()
	}

	// 6. HTTP 服务
	handler := httpapi.NewHandler(ingestion, log)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Ingestion service listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Fatal("HTTP server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	cancel()

	log.Info("Ingestion service stopped")
}
