package audit

import (
	"context"
	"errors"
)

// ErrNotFound は監査レコードが存在しないことを示す。
var ErrNotFound = errors.New("監査レコードが見つかりません")

// Store は監査レコードの永続化先。
type Store interface {
	// Insert はPENDINGのレコードを保存する。
	Insert(ctx context.Context, r *Record) error
	// Finalize はレコードを完了状態に更新する。
	// 1回の原子的な書き込みで行い、レコードが無い場合は false を返す。
	Finalize(ctx context.Context, c Completion) (bool, error)
	// Get はリクエストIDでレコードを取得する。無い場合は ErrNotFound を返す。
	Get(ctx context.Context, requestID string) (*Record, error)
	// List は条件に一致するレコードを受付時刻の新しい順に返す。
	List(ctx context.Context, f Filter) ([]Record, error)
	// Count は条件に一致するレコード数を返す。
	Count(ctx context.Context, f Filter) (int64, error)
	// Close は接続を閉じる。
	Close() error
}
