package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// Key layout:
//
//	loanvoice:messages:<userID>      list of JSON turns, append order
//	loanvoice:applications:<userID>  hash id -> JSON application record
//	loanvoice:appowner:<appID>       owning user id, for status updates
const (
	messagesKeyPrefix     = "loanvoice:messages:"
	applicationsKeyPrefix = "loanvoice:applications:"
	ownerKeyPrefix        = "loanvoice:appowner:"
)

// Redis implements Store on a Redis backend. Every transport failure is
// reported as ErrUnavailable so callers can degrade to memory-only mode.
type Redis struct {
	client *redis.Client
}

// RedisOptions configures the client connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates a Redis-backed store.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	return &Redis{client: client}
}

// NewRedisWithClient wraps an existing client, used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) GetMessages(ctx context.Context, userID string) ([]chat.Turn, error) {
	raw, err := r.client.LRange(ctx, messagesKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, unavailable("get messages", err)
	}

	turns := make([]chat.Turn, 0, len(raw))
	for _, item := range raw {
		var turn chat.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			continue // skip corrupt entries rather than failing the load
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (r *Redis) AppendMessage(ctx context.Context, turn chat.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}
	if err := r.client.RPush(ctx, messagesKeyPrefix+turn.UserID, payload).Err(); err != nil {
		return unavailable("append message", err)
	}
	return nil
}

func (r *Redis) ClearMessages(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, messagesKeyPrefix+userID).Err(); err != nil {
		return unavailable("clear messages", err)
	}
	return nil
}

func (r *Redis) GetApplications(ctx context.Context, userID string) ([]loan.ApplicationRecord, error) {
	raw, err := r.client.HGetAll(ctx, applicationsKeyPrefix+userID).Result()
	if err != nil {
		return nil, unavailable("get applications", err)
	}

	records := make([]loan.ApplicationRecord, 0, len(raw))
	for _, item := range raw {
		var record loan.ApplicationRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ApplicationDate.Before(records[j].ApplicationDate)
	})
	return records, nil
}

func (r *Redis) CreateApplication(ctx context.Context, record loan.ApplicationRecord) (loan.ApplicationRecord, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return loan.ApplicationRecord{}, fmt.Errorf("marshal application: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, applicationsKeyPrefix+record.UserID, record.ID, payload)
	pipe.Set(ctx, ownerKeyPrefix+record.ID, record.UserID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return loan.ApplicationRecord{}, unavailable("create application", err)
	}
	return record, nil
}

func (r *Redis) UpdateApplicationStatus(ctx context.Context, id string, status loan.Status) error {
	userID, err := r.client.Get(ctx, ownerKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("resolve application owner", err)
	}

	raw, err := r.client.HGet(ctx, applicationsKeyPrefix+userID, id).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("load application", err)
	}

	var record loan.ApplicationRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("unmarshal application %s: %w", id, err)
	}
	record.Fields.Status = status

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal application %s: %w", id, err)
	}
	if err := r.client.HSet(ctx, applicationsKeyPrefix+userID, id, payload).Err(); err != nil {
		return unavailable("update application", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %v: %w", op, err, ErrUnavailable)
}
