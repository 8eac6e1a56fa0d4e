package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/dentora/orderchat/internal/chat"
	"github.com/dentora/orderchat/internal/config"
	"github.com/dentora/orderchat/internal/db"
	"github.com/dentora/orderchat/internal/httpapi"
	"github.com/dentora/orderchat/internal/storage"
	"github.com/dentora/orderchat/internal/store/rabbitmq"
	"github.com/dentora/orderchat/internal/store/redisstore"
	"github.com/dentora/orderchat/internal/users"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&users.User{}, &chat.Message{}, &chat.UploadJob{}); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	var st storage.Store
	switch cfg.StorageBackend {
	case "minio":
		m, err := storage.NewMinIO(context.Background(), storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
		st = m
	default:
		d, err := storage.NewDisk(cfg.DataDir)
		if err != nil {
			log.Fatalf("storage dir: %v", err)
		}
		st = d
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitRetryDelay)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer pub.Close()

	r := httpapi.NewRouter(gdb, cfg, rds, st, pub)

	log.Printf("server started addr=%s storage=%s queue=%s", cfg.HTTPAddr, cfg.StorageBackend, cfg.RabbitQueue)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
