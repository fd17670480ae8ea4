// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package broker wraps the Redis server shared by the API service and the
// worker processes. It hosts the job queue, the per-job progress channels,
// job records and the credentials store's key-value entries.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/empa-scientific-it/openbis-uploader/config"
)

// A Broker is a thin, typed view of a Redis connection pool.
type Broker struct {
	client *redis.Client
}

// creates a Broker using the global Redis configuration
func NewFromConfig() (*Broker, error) {
	return New(config.Redis.Addr, config.Redis.Password, config.Redis.DB)
}

// creates a Broker connected to the Redis server at the given address and
// checks that the server answers
func New(addr, password string, db int) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &UnavailableError{Addr: addr, Message: err.Error()}
	}
	slog.Debug(fmt.Sprintf("Connected to Redis at %s (db %d)", addr, db))
	return &Broker{client: client}, nil
}

// closes all connections held by the broker
func (b *Broker) Close() error {
	return b.client.Close()
}

//-----------
// Key-value
//-----------

// stores a value under the given key; a zero ttl keeps it forever
func (b *Broker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// fetches the value stored under the given key, or a KeyNotFoundError
func (b *Broker) Get(ctx context.Context, key string) (string, error) {
	value, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", &KeyNotFoundError{Key: key}
	}
	return value, err
}

// removes the given keys (missing keys are ignored)
func (b *Broker) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

// returns true if the given key exists
func (b *Broker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, err
}

// sets the given fields of the hash stored at key, refreshing its ttl
func (b *Broker) SetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		values = append(values, k, v)
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// returns all fields of the hash stored at key, or a KeyNotFoundError
func (b *Broker) Fields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &KeyNotFoundError{Key: key}
	}
	return fields, nil
}

//-------
// Queue
//-------

// appends a payload to the named queue
func (b *Broker) Enqueue(ctx context.Context, queue string, payload []byte) error {
	return b.client.LPush(ctx, queue, payload).Err()
}

// removes the oldest payload from the named queue, waiting up to timeout for
// one to arrive; returns an EmptyQueueError if none did
func (b *Broker) Dequeue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	result, err := b.client.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &EmptyQueueError{Queue: queue}
	}
	if err != nil {
		return nil, err
	}
	// result holds [queue, payload]
	return []byte(result[1]), nil
}

// returns the number of payloads waiting in the named queue
func (b *Broker) QueueLength(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, queue).Result()
}

//---------
// Pub/sub
//---------

// publishes a message on the named channel
func (b *Broker) Publish(ctx context.Context, channel, message string) error {
	return b.client.Publish(ctx, channel, message).Err()
}

// subscribes to the named channel; the subscription is established when
// this function returns
func (b *Broker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// wait for the subscription confirmation so no message published after
	// this call is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return &Subscription{pubsub: pubsub}, nil
}

// A Subscription receives the messages published on one channel.
type Subscription struct {
	pubsub *redis.PubSub
}

// waits up to timeout for the next message; ok is false if none arrived
func (s *Subscription) Next(ctx context.Context, timeout time.Duration) (message string, ok bool, err error) {
	for {
		received, err := s.pubsub.ReceiveTimeout(ctx, timeout)
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", false, nil
			}
			return "", false, err
		}
		switch m := received.(type) {
		case *redis.Message:
			return m.Payload, true, nil
		case *redis.Pong, *redis.Subscription:
			continue
		}
	}
}

// ends the subscription
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
