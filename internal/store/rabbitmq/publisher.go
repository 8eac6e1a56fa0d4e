package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dentora/orderchat/internal/chat"
)

// JobMessage is the wire form of an upload job. The worker logs and retries
// on the embedded fields without loading the row first; the job id stays
// the source of truth.
type JobMessage struct {
	JobID    string `json:"job_id"`
	Tenant   string `json:"tenant"`
	OrderID  string `json:"order_id"`
	FileName string `json:"file_name"`
	Attempt  int    `json:"attempt"`
}

// DeclareTopology sets up the main/retry/dlq trio around queue. A job
// rejected by the worker dead-letters to the DLQ; a message parked on the
// retry queue comes back to the main queue after retryDelay. Publisher and
// worker both declare with the same arguments or the broker refuses the
// second declaration.
func DeclareTopology(ch *amqp.Channel, queue string, retryDelay time.Duration) error {
	dlq := queue + ".dlq"
	retry := queue + ".retry"

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
		"x-message-ttl":             retryDelay.Milliseconds(),
	}); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	})
	return err
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string, retryDelay time.Duration) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue, retryDelay); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishUploadJob hands a stored upload to the worker that turns it into
// an attachment message.
func (p *Publisher) PublishUploadJob(ctx context.Context, job *chat.UploadJob) error {
	return publish(ctx, p.ch, p.queue, JobMessage{
		JobID:    job.ID,
		Tenant:   job.Tenant,
		OrderID:  job.OrderID,
		FileName: job.FileName,
	})
}

// Retry parks a failed job on the delay queue, bumping its attempt count.
// The broker routes it back to the main queue once the TTL runs out.
func Retry(ctx context.Context, ch *amqp.Channel, queue string, msg JobMessage) error {
	msg.Attempt++
	return publish(ctx, ch, queue+".retry", msg)
}

func publish(ctx context.Context, ch *amqp.Channel, routingKey string, msg JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
