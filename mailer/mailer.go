// Package mailer hands outgoing email to the delivery worker through a
// Redis list. Delivery itself happens elsewhere.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "vrixsa_email-queue"

type Message struct {
	To      string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"message"`
}

// job is the payload the worker pops off the list.
type job struct {
	Message
	QueuedAt time.Time `json:"queuedAt"`
}

type RedisQueue struct {
	client *redis.Client
	key    string
}

type Options struct {
	Addr     string
	Password string
	DB       int
	QueueKey string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisQueue(client, opts.QueueKey), nil
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue pushes msg for delivery. A nil error means the job is on the
// queue, not that the mail was sent.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("mailer: empty recipient")
	}
	payload, err := json.Marshal(job{Message: msg, QueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("mailer: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("mailer: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
