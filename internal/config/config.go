// Package config はrelayの設定を環境変数とYAMLファイルから読み込む。
//
// 値の優先順位は 環境変数 > 設定ファイル > 既定値 とする。
// 環境変数名はキーの "." を "_" に置き換えて大文字にしたもの（例: audit.store は AUDIT_STORE）。
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nao1215/relay/internal/enrich"
	"github.com/nao1215/relay/internal/registry"
	"github.com/nao1215/relay/pkg/headers"
	"github.com/nao1215/relay/pkg/logger"
	"github.com/spf13/viper"
)

// EnvConfigFile は設定ファイルのパスを指定する環境変数名。
const EnvConfigFile = "RELAY_CONFIG_FILE"

// DefaultConfigFile は既定の設定ファイルのパス。存在しない場合は読み込まない。
const DefaultConfigFile = "config/relay.yaml"

// 監査ログの保存先。
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config はrelayの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// GatewayService は X-Gateway-Service に設定するサービス名。
	GatewayService string
	// GatewayVersion は X-Gateway-Version に設定するバージョン。
	GatewayVersion string
	// ProxyService は X-Proxy-Service と X-Enriched-By に設定するコンポーネント名。
	ProxyService string
	// JWTSecret はJWT検証用の秘密鍵。空の場合は検証を行わない。
	JWTSecret string
	// DevToken は開発用トークン発行エンドポイントを有効にするかどうか。
	DevToken bool
	// CORSOrigins はクロスオリジンリクエストを許可するオリジン。
	CORSOrigins []string
	// Log はロガーの設定。
	Log logger.Config
	// Audit は監査ログの設定。
	Audit AuditConfig
	// Redis はRedisへの接続設定。
	Redis RedisConfig
	// Services は転送先サービスの一覧（名前順）。
	Services []registry.ServiceInfo
	// Enrichment はサービス固有ヘッダーの追加定義。
	Enrichment map[string]enrich.ServiceProfile
}

// AuditConfig は監査ログの設定。
type AuditConfig struct {
	// Store は保存先（sqlite または redis）。
	Store string
	// SQLitePath はSQLiteのデータベースファイルのパス。
	SQLitePath string
	// Workers は書き込みワーカー数。
	Workers int
	// QueueSize はワーカーごとのキュー長。
	QueueSize int
	// BodyLimit は記録するボディの最大バイト数。
	BodyLimit int
	// Exclude は監査対象から除外するパスの接頭辞。
	Exclude []string
}

// RedisConfig はRedisへの接続設定。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// defaultServices は既定の転送先サービス。
var defaultServices = map[string]string{
	"product":      "http://localhost:8081",
	"order":        "http://localhost:8082",
	"notification": "http://localhost:8083",
	"user":         "http://localhost:8084",
}

// profileConfig は enrichment.services.<name> の設定。
type profileConfig struct {
	Category string         `mapstructure:"category"`
	Headers  []headers.Pair `mapstructure:"headers"`
}

// Load は環境変数と設定ファイルから設定を読み込む。
// 設定ファイルは RELAY_CONFIG_FILE、無ければ config/relay.yaml を読む。
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	return LoadFile(path)
}

// LoadFile は指定したYAMLファイルと環境変数から設定を読み込む。
// path が空の場合は環境変数と既定値のみを使う。
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{
		Port:           v.GetString("port"),
		GatewayService: v.GetString("gateway.service"),
		GatewayVersion: v.GetString("gateway.version"),
		ProxyService:   v.GetString("proxy.service"),
		JWTSecret:      v.GetString("jwt.secret"),
		DevToken:       v.GetBool("auth.dev_token"),
		CORSOrigins:    stringList(v, "cors.origins"),
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Audit: AuditConfig{
			Store:      strings.ToLower(v.GetString("audit.store")),
			SQLitePath: v.GetString("audit.sqlite_path"),
			Workers:    v.GetInt("audit.workers"),
			QueueSize:  v.GetInt("audit.queue_size"),
			BodyLimit:  v.GetInt("audit.body_limit"),
			Exclude:    stringList(v, "audit.exclude"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Services: services(v),
	}

	profiles := map[string]profileConfig{}
	if err := v.UnmarshalKey("enrichment.services", &profiles); err != nil {
		return nil, fmt.Errorf("エンリッチメント設定の解析に失敗: %w", err)
	}
	cfg.Enrichment = make(map[string]enrich.ServiceProfile, len(profiles))
	for name, p := range profiles {
		cfg.Enrichment[name] = enrich.ServiceProfile{Category: p.Category, Extra: p.Headers}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults は既定値を設定する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("gateway.service", "gateway-service")
	v.SetDefault("gateway.version", "1.0")
	v.SetDefault("proxy.service", enrich.DefaultComponent)
	v.SetDefault("jwt.secret", "dev-secret-key")
	v.SetDefault("auth.dev_token", false)
	v.SetDefault("cors.origins", "http://localhost:3000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatJSON)
	v.SetDefault("audit.store", StoreSQLite)
	v.SetDefault("audit.sqlite_path", "/data/relay.db")
	v.SetDefault("audit.workers", 4)
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.body_limit", 8192)
	v.SetDefault("audit.exclude", "/health,/metrics")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	for name, url := range defaultServices {
		v.SetDefault("services."+name+".url", url)
	}
}

// services は services.<name> の設定からサービス一覧を組み立てる。
// 各項目は SERVICES_<NAME>_URL のように環境変数でも上書きできる。
func services(v *viper.Viper) []registry.ServiceInfo {
	names := make([]string, 0)
	for name := range v.GetStringMap("services") {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]registry.ServiceInfo, 0, len(names))
	for _, name := range names {
		key := "services." + name
		out = append(out, registry.ServiceInfo{
			Name:           name,
			BaseURL:        v.GetString(key + ".url"),
			BasePath:       v.GetString(key + ".base_path"),
			Timeout:        time.Duration(v.GetInt(key+".timeout_seconds")) * time.Second,
			AllowedMethods: stringList(v, key+".allowed_methods"),
		})
	}
	return out
}

// stringList はカンマ区切りの文字列またはYAMLのリストを文字列のスライスとして読む。
func stringList(v *viper.Viper, key string) []string {
	var items []string
	switch raw := v.Get(key).(type) {
	case string:
		items = strings.Split(raw, ",")
	case []string:
		items = raw
	case []any:
		for _, item := range raw {
			items = append(items, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("portが空です"))
	}
	switch c.Audit.Store {
	case StoreSQLite:
		if c.Audit.SQLitePath == "" {
			errs = append(errs, errors.New("audit.sqlite_pathが空です"))
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addrが空です"))
		}
	default:
		errs = append(errs, fmt.Errorf("未対応の監査ログ保存先: %s", c.Audit.Store))
	}
	if c.Audit.Workers <= 0 {
		errs = append(errs, fmt.Errorf("audit.workersは1以上である必要があります: %d", c.Audit.Workers))
	}
	if c.Audit.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audit.queue_sizeは1以上である必要があります: %d", c.Audit.QueueSize))
	}
	if c.Audit.BodyLimit < 0 {
		errs = append(errs, fmt.Errorf("audit.body_limitは0以上である必要があります: %d", c.Audit.BodyLimit))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return nil
}

// EngineOptions はエンリッチメントエンジンの生成オプションを返す。
func (c *Config) EngineOptions() []enrich.Option {
	opts := []enrich.Option{enrich.WithComponent(c.ProxyService)}
	names := make([]string, 0, len(c.Enrichment))
	for name := range c.Enrichment {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, enrich.WithProfile(name, c.Enrichment[name]))
	}
	return opts
}
