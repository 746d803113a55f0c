package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix はRedisのキー接頭辞の既定値。
const DefaultRedisPrefix = "relay:audit"

// finalizeRetries は楽観ロックが競合した場合の再試行回数。
const finalizeRetries = 5

// RedisOptions はRedisへの接続設定。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix はキーの接頭辞。空の場合は DefaultRedisPrefix を使う。
	Prefix string
}

// RedisStore はRedisに監査レコードを保存する Store。
//
// レコードはJSON文字列として保存し、全件・サービス・状態・クライアントIPごとの
// ソート済みセット（スコアは受付時刻のミリ秒）を索引として持つ。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis はRedisに接続し、疎通を確認する。
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return NewRedisStore(client, opts.Prefix), nil
}

// NewRedisStore は接続済みのクライアントから RedisStore を生成する。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string { return s.prefix + ":record:" + id }
func (s *RedisStore) allKey() string            { return s.prefix + ":idx:all" }
func (s *RedisStore) serviceKey(v string) string { return s.prefix + ":idx:service:" + v }
func (s *RedisStore) statusKey(v Status) string  { return s.prefix + ":idx:status:" + string(v) }
func (s *RedisStore) clientIPKey(v string) string {
	return s.prefix + ":idx:ip:" + v
}

// Insert はPENDINGのレコードと索引を1つのトランザクションで保存する。
func (s *RedisStore) Insert(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("監査レコードのシリアライズに失敗: %w", err)
	}
	member := redis.Z{Score: float64(r.Timestamp.UnixMilli()), Member: r.RequestID}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(r.RequestID), data, 0)
		pipe.ZAdd(ctx, s.allKey(), member)
		pipe.ZAdd(ctx, s.serviceKey(r.ServiceName), member)
		pipe.ZAdd(ctx, s.statusKey(r.Status), member)
		pipe.ZAdd(ctx, s.clientIPKey(r.ClientIP), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("監査レコードの挿入に失敗: %w", err)
	}
	return nil
}

// Finalize はレコードをWATCHとMULTIで原子的に完了状態へ更新する。
// 競合した場合は再試行し、最後の書き込みが残る。
func (s *RedisStore) Finalize(ctx context.Context, c Completion) (bool, error) {
	key := s.recordKey(c.RequestID)

	for range finalizeRetries {
		found := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true

			var r Record
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("監査レコードのデシリアライズに失敗: %w", err)
			}
			previous := r.Status
			c.apply(&r)
			updated, err := json.Marshal(&r)
			if err != nil {
				return fmt.Errorf("監査レコードのシリアライズに失敗: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				pipe.ZRem(ctx, s.statusKey(previous), r.RequestID)
				pipe.ZAdd(ctx, s.statusKey(r.Status), redis.Z{Score: float64(r.Timestamp.UnixMilli()), Member: r.RequestID})
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("監査レコードの更新に失敗: %w", err)
		}
		return found, nil
	}
	return false, fmt.Errorf("監査レコードの更新に失敗: %w", redis.TxFailedErr)
}

// Get はリクエストIDでレコードを取得する。
func (s *RedisStore) Get(ctx context.Context, requestID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("監査レコードの取得に失敗: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("監査レコードのデシリアライズに失敗: %w", err)
	}
	return &r, nil
}

// List は条件に一致するレコードを受付時刻の新しい順に返す。
// 最も絞り込める索引で候補を取得し、残りの条件はレコードを読んで判定する。
func (s *RedisStore) List(ctx context.Context, f Filter) ([]Record, error) {
	ids, err := s.client.ZRevRangeByScore(ctx, s.indexFor(f), scoreRange(f)).Result()
	if err != nil {
		return nil, fmt.Errorf("監査レコードの索引の取得に失敗: %w", err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("監査レコードの取得に失敗: %w", err)
	}

	records := make([]Record, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("監査レコードのデシリアライズに失敗: %w", err)
		}
		if !f.matches(&r) {
			continue
		}
		records = append(records, r)
		if f.Limit > 0 && len(records) >= f.Limit {
			break
		}
	}
	return records, nil
}

// Count は条件に一致するレコード数を返す。
// 索引だけで判定できる条件はZCOUNTで数える。
func (s *RedisStore) Count(ctx context.Context, f Filter) (int64, error) {
	if criteria(f) <= 1 {
		r := scoreRange(f)
		n, err := s.client.ZCount(ctx, s.indexFor(f), r.Min, r.Max).Result()
		if err != nil {
			return 0, fmt.Errorf("監査レコードの件数取得に失敗: %w", err)
		}
		return n, nil
	}

	f.Limit = 0
	records, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

// Close はRedisクライアントを閉じる。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// indexFor は条件に対して使う索引のキーを返す。
func (s *RedisStore) indexFor(f Filter) string {
	switch {
	case f.ClientIP != "":
		return s.clientIPKey(f.ClientIP)
	case f.Service != "":
		return s.serviceKey(f.Service)
	case f.Status != "":
		return s.statusKey(f.Status)
	default:
		return s.allKey()
	}
}

// criteria は時刻以外の条件の数を返す。
func criteria(f Filter) int {
	n := 0
	for _, set := range []bool{f.Service != "", f.Status != "", f.ClientIP != ""} {
		if set {
			n++
		}
	}
	return n
}

// scoreRange は時刻の条件をスコアの範囲に変換する。
func scoreRange(f Filter) *redis.ZRangeBy {
	r := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !f.From.IsZero() {
		r.Min = strconv.FormatInt(f.From.UnixMilli(), 10)
	}
	if !f.To.IsZero() {
		r.Max = strconv.FormatInt(f.To.UnixMilli(), 10)
	}
	return r
}
