package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	auditdb "github.com/nao1215/relay/internal/audit/db"
	"github.com/nao1215/relay/pkg/migration"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore はSQLiteに監査レコードを保存する Store。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *auditdb.Queries
}

// OpenSQLite はSQLiteデータベースを開き、マイグレーションを適用する。
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore はマイグレーション適用済みの接続から SQLiteStore を生成する。
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, queries: auditdb.New(db)}
}

// Insert はPENDINGのレコードを保存する。
func (s *SQLiteStore) Insert(ctx context.Context, r *Record) error {
	reqHeaders, err := encodeHeaders(r.RequestHeaders)
	if err != nil {
		return err
	}
	if err := s.queries.CreateRequestLog(ctx, auditdb.CreateRequestLogParams{
		RequestID:      r.RequestID,
		CorrelationID:  r.CorrelationID,
		ServiceName:    r.ServiceName,
		Method:         r.Method,
		Endpoint:       r.Endpoint,
		Url:            r.URL,
		TimestampMs:    r.Timestamp.UnixMilli(),
		RequestHeaders: reqHeaders,
		RequestBody:    r.RequestBody,
		ClientIp:       r.ClientIP,
		UserAgent:      r.UserAgent,
		Status:         string(StatusPending),
	}); err != nil {
		return fmt.Errorf("監査レコードの挿入に失敗: %w", err)
	}
	return nil
}

// Finalize はレコードを1つのUPDATE文で完了状態に更新する。
func (s *SQLiteStore) Finalize(ctx context.Context, c Completion) (bool, error) {
	respHeaders, err := encodeHeaders(c.ResponseHeaders)
	if err != nil {
		return false, err
	}
	n, err := s.queries.FinalizeRequestLog(ctx, auditdb.FinalizeRequestLogParams{
		ResponseStatus:  sql.NullInt64{Int64: int64(c.ResponseStatus), Valid: true},
		ResponseHeaders: sql.NullString{String: respHeaders, Valid: true},
		ResponseBody:    sql.NullString{String: c.ResponseBody, Valid: c.ResponseBody != ""},
		DurationMs:      sql.NullInt64{Int64: c.Duration.Milliseconds(), Valid: true},
		Status:          string(c.Outcome),
		ErrorMessage:    sql.NullString{String: c.ErrorMessage, Valid: c.ErrorMessage != ""},
		RequestID:       c.RequestID,
	})
	if err != nil {
		return false, fmt.Errorf("監査レコードの更新に失敗: %w", err)
	}
	return n > 0, nil
}

// Get はリクエストIDでレコードを取得する。
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*Record, error) {
	row, err := s.queries.GetRequestLog(ctx, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("監査レコードの取得に失敗: %w", err)
	}
	r, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List は条件に一致するレコードを受付時刻の新しい順に返す。
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := int64(-1)
	if f.Limit > 0 {
		limit = int64(f.Limit)
	}
	p := filterParams(f)
	rows, err := s.queries.ListRequestLogs(ctx, auditdb.ListRequestLogsParams{
		ServiceName: p.ServiceName,
		Status:      p.Status,
		ClientIp:    p.ClientIp,
		FromMs:      p.FromMs,
		ToMs:        p.ToMs,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("監査レコードの検索に失敗: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Count は条件に一致するレコード数を返す。
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int64, error) {
	n, err := s.queries.CountRequestLogs(ctx, filterParams(f))
	if err != nil {
		return 0, fmt.Errorf("監査レコードの件数取得に失敗: %w", err)
	}
	return n, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// filterParams は検索条件をクエリのパラメータに変換する。
func filterParams(f Filter) auditdb.CountRequestLogsParams {
	p := auditdb.CountRequestLogsParams{
		ServiceName: sql.NullString{String: f.Service, Valid: f.Service != ""},
		Status:      sql.NullString{String: string(f.Status), Valid: f.Status != ""},
		ClientIp:    sql.NullString{String: f.ClientIP, Valid: f.ClientIP != ""},
	}
	if !f.From.IsZero() {
		p.FromMs = sql.NullInt64{Int64: f.From.UnixMilli(), Valid: true}
	}
	if !f.To.IsZero() {
		p.ToMs = sql.NullInt64{Int64: f.To.UnixMilli(), Valid: true}
	}
	return p
}

// fromRow はデータベースの行をレコードに変換する。
func fromRow(row auditdb.RequestLog) (Record, error) {
	r := Record{
		RequestID:     row.RequestID,
		CorrelationID: row.CorrelationID,
		ServiceName:   row.ServiceName,
		Method:        row.Method,
		Endpoint:      row.Endpoint,
		URL:           row.Url,
		Timestamp:     time.UnixMilli(row.TimestampMs).UTC(),
		RequestBody:   row.RequestBody,
		ClientIP:      row.ClientIp,
		UserAgent:     row.UserAgent,
		ResponseBody:  row.ResponseBody.String,
		Status:        Status(row.Status),
		ErrorMessage:  row.ErrorMessage.String,
	}

	var err error
	if r.RequestHeaders, err = decodeHeaders(row.RequestHeaders); err != nil {
		return Record{}, err
	}
	if row.ResponseHeaders.Valid {
		if r.ResponseHeaders, err = decodeHeaders(row.ResponseHeaders.String); err != nil {
			return Record{}, err
		}
	}
	if row.ResponseStatus.Valid {
		status := int(row.ResponseStatus.Int64)
		r.ResponseStatus = &status
	}
	if row.DurationMs.Valid {
		d := row.DurationMs.Int64
		r.DurationMillis = &d
	}
	return r, nil
}

func encodeHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("ヘッダーのシリアライズに失敗: %w", err)
	}
	return string(b), nil
}

func decodeHeaders(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("ヘッダーのデシリアライズに失敗: %w", err)
	}
	return h, nil
}
