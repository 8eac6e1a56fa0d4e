package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dentora/orderchat/internal/chat"
	"github.com/dentora/orderchat/internal/config"
	"github.com/dentora/orderchat/internal/db"
	"github.com/dentora/orderchat/internal/store/rabbitmq"
	"github.com/dentora/orderchat/internal/store/redisstore"
)

// maxAttempts counts deliveries of one job before it goes to the DLQ.
const maxAttempts = 3

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, rds)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue, cfg.RabbitRetryDelay); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, m.JobID); err != nil {
					if m.Attempt+1 < maxAttempts {
						log.Printf("worker=%d job %s order=%s attempt=%d retrying cost=%s err=%v",
							workerID, m.JobID, m.OrderID, m.Attempt+1, time.Since(start), err)
						if rerr := rabbitmq.Retry(ctx, ch, cfg.RabbitQueue, m); rerr != nil {
							log.Printf("worker=%d retry publish failed job=%s err=%v", workerID, m.JobID, rerr)
							_ = d.Nack(false, false)
							continue
						}
						_ = d.Ack(false)
						continue
					}
					log.Printf("worker=%d job %s order=%s gave up after %d attempts err=%v",
						workerID, m.JobID, m.OrderID, m.Attempt+1, err)
					_ = svc.FailUpload(ctx, m.JobID, err.Error())
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob turns one stored upload into an attachment message. Clients
// poll the new message in; nothing is pushed back to them from here. The
// job row is marked failed only once the dispatcher gives up retrying.
func handleJob(ctx context.Context, svc *chat.Service, jobID string) error {
	start := time.Now()

	m, err := svc.CompleteUpload(ctx, jobID)
	if err != nil {
		return err
	}

	if cost := time.Since(start); cost > 2*time.Second {
		log.Printf("job_timing job=%s message_id=%d total=%s", jobID, m.ID, cost)
	}
	return nil
}
