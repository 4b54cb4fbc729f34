package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"collabsync/backend/config"
	"collabsync/backend/internal/authservice"
	"collabsync/backend/internal/cache"
	"collabsync/backend/internal/collab"
	"collabsync/backend/internal/httpapi/middleware"
	"collabsync/backend/internal/store"
	"collabsync/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("connect to redis failed: %v", err)
	}
	defer rdb.Close()

	gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("connect to mysql failed: %v", err)
	}
	db, err := gormDB.DB()
	if err != nil {
		log.Fatalf("unwrap sql.DB failed: %v", err)
	}
	defer db.Close()

	kafkaCfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("connect to kafka failed: %v", err)
	}
	defer producer.Close()

	operationStore := store.NewOperationStore(db)
	documentStore := store.NewDocumentStore(db)
	permissionStore := store.NewPermissionStore(db)
	snapshotStore := store.NewSnapshotStore(db)

	presence := cache.NewRedisPresence(rdb)
	locks := cache.NewRedisBlockLocks(rdb)
	idem := cache.NewRedisIdempotency(rdb, cfg.IdempotencyTTL())
	docView := cache.NewDocViewCache(rdb)

	kafkaSem := collab.NewSemaphore(cfg.Collab.MaxInflightOps)
	wsSem := collab.NewSemaphore(cfg.Collab.MaxInflightOps)

	dispatcher := collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem, collab.KafkaDispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})
	defer dispatcher.Close()

	seq := collab.NewSequencer(operationStore, documentStore, docView, dispatcher)

	maintenance := collab.NewMaintenance(presence, snapshotStore, seq, cfg.MaintenanceInterval())
	maintenance.Start()
	defer maintenance.Stop()

	hub := ws.NewHub()
	manager := ws.NewManager(hub, seq, documentStore, permissionStore, presence, locks, idem, wsSem)
	manager.ConfigureLeases(cfg.PresenceTTL(), cfg.LockLease())

	verifier := authservice.NewVerifier(cfg.Auth.Secret)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	collabGroup := r.Group("/collab")
	collabGroup.Use(middleware.AuthMiddleware(verifier))
	collabGroup.GET("/ws/:docId", manager.WebSocketConnect)
	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	if err := r.Run(fmt.Sprintf(":%d", cfg.Running.Port)); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
