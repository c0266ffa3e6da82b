// Package config は通知サービスの設定を環境変数（および任意の設定ファイル）から読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 動作モード。
const (
	// ModeProduction はクラスタ内のサービス名でピアに接続する。
	ModeProduction = "production"
	// ModeLocal はlocalhostの固定ポートでピアに接続する。
	ModeLocal = "local"
)

// ピアサービスの接続先。
const (
	productionTaskServiceURL = "http://task-service:8082"
	productionUserServiceURL = "http://user-service:8081"
	localTaskServiceURL      = "http://localhost:8082"
	localUserServiceURL      = "http://localhost:8081"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"PORT"`
	// Mode は "production" または "local"。
	Mode string `mapstructure:"APP_MODE"`
	// TaskServiceURL はタスクサービスのベースURL。空の場合はModeから決定する。
	TaskServiceURL string `mapstructure:"TASK_SERVICE_URL"`
	// UserServiceURL はユーザーサービスのベースURL。空の場合はModeから決定する。
	UserServiceURL string `mapstructure:"USER_SERVICE_URL"`
	// DatabasePath はSQLiteファイルのパス。":memory:" も指定可能。
	DatabasePath string `mapstructure:"NOTIFICATION_DB_PATH"`
	// PeerTimeout はピアサービス呼び出し1回あたりのタイムアウト。
	PeerTimeout time.Duration `mapstructure:"PEER_TIMEOUT"`
	// DueWindowDays は期限チェックのデフォルト期間（日）。
	DueWindowDays int `mapstructure:"DUE_WINDOW_DAYS"`
	// ReconcileInterval は定期期限チェックの間隔。0で無効。
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	// ReconcileTimeout は定期期限チェック1回あたりの上限時間。
	ReconcileTimeout time.Duration `mapstructure:"RECONCILE_TIMEOUT"`
	// ReconcileConcurrency は期限チェックで並行処理するタスク数の上限。
	ReconcileConcurrency int `mapstructure:"RECONCILE_CONCURRENCY"`
	// AllowedOrigins はCORSで許可するオリジン。"*" で全許可。
	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`
	// RedisAddr が設定されている場合、タスク単位のロックにRedisを使用する。
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword はRedisのパスワード。
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB はRedisのDB番号。
	RedisDB int `mapstructure:"REDIS_DB"`
	// LogLevel はログレベル。
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// setDefaults はすべての設定キーのデフォルト値を登録する。
// AutomaticEnvはデフォルトが登録されたキーのみUnmarshal対象にするため、全キーを登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8083")
	v.SetDefault("APP_MODE", ModeLocal)
	v.SetDefault("TASK_SERVICE_URL", "")
	v.SetDefault("USER_SERVICE_URL", "")
	v.SetDefault("NOTIFICATION_DB_PATH", "notifications.db")
	v.SetDefault("PEER_TIMEOUT", "5s")
	v.SetDefault("DUE_WINDOW_DAYS", 1)
	v.SetDefault("RECONCILE_INTERVAL", "1h")
	v.SetDefault("RECONCILE_TIMEOUT", "1m")
	v.SetDefault("RECONCILE_CONCURRENCY", 4)
	v.SetDefault("ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load は環境変数から設定を読み込む。
// configFileが空でない場合はその設定ファイル（env/yaml/json等）も読み込む。環境変数が優先される。
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	// 既存のデプロイ定義に合わせてFLASK_ENVも受け付ける。両方ある場合はAPP_MODEが優先。
	if err := v.BindEnv("APP_MODE", "APP_MODE", "FLASK_ENV"); err != nil {
		return Config{}, fmt.Errorf("環境変数の登録に失敗: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	cfg.resolvePeerURLs()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolvePeerURLs は未指定のピアURLをModeに応じて補完する。
func (c *Config) resolvePeerURLs() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	taskURL, userURL := localTaskServiceURL, localUserServiceURL
	if c.Mode == ModeProduction {
		taskURL, userURL = productionTaskServiceURL, productionUserServiceURL
	}
	if c.TaskServiceURL == "" {
		c.TaskServiceURL = taskURL
	}
	if c.UserServiceURL == "" {
		c.UserServiceURL = userURL
	}
	c.TaskServiceURL = strings.TrimRight(c.TaskServiceURL, "/")
	c.UserServiceURL = strings.TrimRight(c.UserServiceURL, "/")
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORTは必須です")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("NOTIFICATION_DB_PATHは必須です")
	}
	if c.PeerTimeout <= 0 {
		return fmt.Errorf("PEER_TIMEOUTは正の値である必要があります: %s", c.PeerTimeout)
	}
	if c.DueWindowDays <= 0 {
		return fmt.Errorf("DUE_WINDOW_DAYSは正の値である必要があります: %d", c.DueWindowDays)
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVALは負の値にできません: %s", c.ReconcileInterval)
	}
	if c.ReconcileTimeout <= 0 {
		return fmt.Errorf("RECONCILE_TIMEOUTは正の値である必要があります: %s", c.ReconcileTimeout)
	}
	if c.ReconcileConcurrency <= 0 {
		return fmt.Errorf("RECONCILE_CONCURRENCYは正の値である必要があります: %d", c.ReconcileConcurrency)
	}
	for _, o := range c.AllowedOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("ALLOWED_ORIGINSは \"*\" または http:// か https:// で始まる必要があります: %q", o)
		}
	}
	return nil
}
