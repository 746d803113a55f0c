// relayのエントリポイント。
// 相関ID・ユーザー情報・エンリッチメント用のヘッダーを付与して下流サービスへ転送し、
// すべてのリクエストを監査ログに記録する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/relay/internal/audit"
	"github.com/nao1215/relay/internal/config"
	"github.com/nao1215/relay/internal/gateway"
	"github.com/nao1215/relay/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("監査ログのストアを閉じられませんでした", zap.Error(err))
		}
	}()

	server, err := gateway.NewServer(cfg, store, log)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// openStore は設定に応じた監査ログのストアを開く。
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (audit.Store, error) {
	switch cfg.Audit.Store {
	case config.StoreRedis:
		log.Info("監査ログをRedisに保存します", zap.String("addr", cfg.Redis.Addr))
		return audit.OpenRedis(ctx, audit.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		log.Info("監査ログをSQLiteに保存します", zap.String("path", cfg.Audit.SQLitePath))
		return audit.OpenSQLite(ctx, cfg.Audit.SQLitePath, log.Named("migration"))
	}
}
