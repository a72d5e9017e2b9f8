// Package redislog stores slot histories in redis.
package redislog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"redline/internal/contentlog"
)

const (
	defaultPrefix = "redline:"
	maxTxRetries  = 8
)

// Log keeps, per slot, a list of entry documents and a hash of ref to content.
type Log struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ contentlog.Log = (*Log)(nil)

// New connects to redisURL and checks the connection.
func New(redisURL string) (*Log, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Log {
	return &Log{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
}

func (l *Log) entriesKey(slot string) string {
	return l.prefix + slot + ":entries"
}

func (l *Log) contentKey(slot string) string {
	return l.prefix + slot + ":content"
}

// Append writes the entry and its content in one MULTI/EXEC, retrying when a
// concurrent writer touched the slot in between.
// Append watches the entry list, so the head comparison and the push commit
// together or the transaction retries.
func (l *Log) Append(ctx context.Context, slot string, content []byte, message string) (contentlog.Entry, bool, error) {
	entriesKey := l.entriesKey(slot)
	contentKey := l.contentKey(slot)
	hash := contentlog.ContentHash(content)

	var (
		entry   contentlog.Entry
		created bool
	)
	txf := func(tx *redis.Tx) error {
		count, err := tx.LLen(ctx, entriesKey).Result()
		if err != nil {
			return fmt.Errorf("read entry count: %w", err)
		}
		if count > 0 {
			doc, err := tx.LIndex(ctx, entriesKey, -1).Result()
			if err != nil {
				return fmt.Errorf("read head entry: %w", err)
			}
			var head contentlog.Entry
			if err := json.Unmarshal([]byte(doc), &head); err != nil {
				return fmt.Errorf("unmarshal head entry: %w", err)
			}
			if head.ContentHash == hash {
				entry, created = head, false
				return nil
			}
		}
		entry = contentlog.Entry{
			Ref:         uuid.NewString(),
			Seq:         int(count) + 1,
			ContentHash: hash,
			Message:     message,
			Author:      "redline",
			CreatedAt:   l.now().UTC(),
		}
		created = true
		doc, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, contentKey, entry.Ref, content)
			pipe.RPush(ctx, entriesKey, doc)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, txf, entriesKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return contentlog.Entry{}, false, fmt.Errorf("append entry: %w", err)
		}
		return entry, created, nil
	}
	return contentlog.Entry{}, false, fmt.Errorf("append entry: %w", redis.TxFailedErr)
}

func (l *Log) Entries(ctx context.Context, slot string) ([]contentlog.Entry, error) {
	docs, err := l.client.LRange(ctx, l.entriesKey(slot), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	items := make([]contentlog.Entry, 0, len(docs))
	for _, doc := range docs {
		var entry contentlog.Entry
		if err := json.Unmarshal([]byte(doc), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		items = append(items, entry)
	}
	return items, nil
}

func (l *Log) Content(ctx context.Context, slot, ref string) ([]byte, error) {
	content, err := l.client.HGet(ctx, l.contentKey(slot), ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("slot %s ref %s: %w", slot, ref, contentlog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return content, nil
}

func (l *Log) Reset(ctx context.Context, slot string) error {
	if err := l.client.Del(ctx, l.entriesKey(slot), l.contentKey(slot)).Err(); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

func (l *Log) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Log) Close() error {
	return l.client.Close()
}
