package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Bus      BusConfig      `yaml:"bus"`
	Game     GameConfig     `yaml:"game"`
	Packs    PacksConfig    `yaml:"packs"`
	Identity IdentityConfig `yaml:"identity"`
	Log      LogConfig      `yaml:"log"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig HTTP/WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	BuildVersion   int    `yaml:"build_version"` // 推送给客户端的构建号，变化时客户端刷新
	PublicURL      string `yaml:"public_url"`    // 生成邀请链接使用
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig 游戏文档存储
type StorageConfig struct {
	Driver      string `yaml:"driver"` // redis | postgres
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BusConfig 集群总线
type BusConfig struct {
	Channel  string `yaml:"channel"`
	Encoding string `yaml:"encoding"` // json | protobuf
}

// GameConfig 游戏配置
type GameConfig struct {
	AutoAdvanceDelay    int `yaml:"auto_advance_delay"` // 选出赢家后自动进入下一轮（秒）
	HandSize            int `yaml:"hand_size"`
	MaxPlayerLimit      int `yaml:"max_player_limit"`
	MaxSyntheticPlayers int `yaml:"max_synthetic_players"`
	PublicWindow        int `yaml:"public_window"` // 公开列表只显示最近更新的游戏（分钟）
	PublicPageSize      int `yaml:"public_page_size"`
	ConflictRetries     int `yaml:"conflict_retries"` // 版本冲突重试次数
	SweepInterval       int `yaml:"sweep_interval"`   // 自动推进补偿扫描间隔（秒）
	SweepGrace          int `yaml:"sweep_grace"`      // 超时多久后由其他进程接管（秒）
}

// PacksConfig 卡包配置
type PacksConfig struct {
	Dir           string `yaml:"dir"`
	RemoteBaseURL string `yaml:"remote_base_url"`
	RemoteTimeout int    `yaml:"remote_timeout"` // 秒
	CacheTTL      int    `yaml:"cache_ttl"`      // Redis 缓存新鲜期（小时）
	MemoryTTL     int    `yaml:"memory_ttl"`     // 内存缓存空闲过期（分钟）
}

// IdentityConfig 身份令牌
type IdentityConfig struct {
	Secret   string `yaml:"secret"`    // 为空时不校验令牌
	TokenTTL int    `yaml:"token_ttl"` // 小时，0 表示不过期
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AllowedOrigins []string           `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig    `yaml:"rate_limit"`
	MessageLimit   MessageLimitConfig `yaml:"message_limit"`
}

// RateLimitConfig 连接速率限制
type RateLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`
	BanDuration  int `yaml:"ban_duration"` // 秒
}

// MessageLimitConfig 单连接消息速率限制
type MessageLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
}

// AutoAdvanceDelayDuration 自动推进延迟
func (c *GameConfig) AutoAdvanceDelayDuration() time.Duration {
	return time.Duration(c.AutoAdvanceDelay) * time.Second
}

// PublicWindowDuration 公开列表时间窗口
func (c *GameConfig) PublicWindowDuration() time.Duration {
	return time.Duration(c.PublicWindow) * time.Minute
}

// SweepIntervalDuration 补偿扫描间隔
func (c *GameConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// SweepGraceDuration 补偿宽限期
func (c *GameConfig) SweepGraceDuration() time.Duration {
	return time.Duration(c.SweepGrace) * time.Second
}

// RemoteTimeoutDuration 远程卡包请求超时
func (c *PacksConfig) RemoteTimeoutDuration() time.Duration {
	return time.Duration(c.RemoteTimeout) * time.Second
}

// CacheTTLDuration Redis 缓存新鲜期
func (c *PacksConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Hour
}

// MemoryTTLDuration 内存缓存空闲过期
func (c *PacksConfig) MemoryTTLDuration() time.Duration {
	return time.Duration(c.MemoryTTL) * time.Minute
}

// TokenTTLDuration 令牌有效期
func (c *IdentityConfig) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Hour
}

// BanDurationTime 封禁时长
func (c *RateLimitConfig) BanDurationTime() time.Duration {
	return time.Duration(c.BanDuration) * time.Second
}

// Load 加载配置文件，再叠加 .env 与环境变量
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.fillDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	var cfg Config
	cfg.fillDefaults()
	return &cfg
}

// 设置默认值
func (cfg *Config) fillDefaults() {
	d := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	s := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}

	s(&cfg.Server.Host, "0.0.0.0")
	d(&cfg.Server.Port, 1780)
	d(&cfg.Server.MaxConnections, 10000)
	d(&cfg.Server.BuildVersion, 1)
	s(&cfg.Redis.Addr, "localhost:6379")
	s(&cfg.Storage.Driver, "redis")
	s(&cfg.Bus.Channel, "games")
	s(&cfg.Bus.Encoding, "json")

	d(&cfg.Game.AutoAdvanceDelay, 10)
	d(&cfg.Game.HandSize, 10)
	d(&cfg.Game.MaxPlayerLimit, 50)
	d(&cfg.Game.MaxSyntheticPlayers, 10)
	d(&cfg.Game.PublicWindow, 15)
	d(&cfg.Game.PublicPageSize, 20)
	d(&cfg.Game.ConflictRetries, 5)
	d(&cfg.Game.SweepInterval, 5)
	d(&cfg.Game.SweepGrace, 5)

	s(&cfg.Packs.Dir, "data")
	d(&cfg.Packs.RemoteTimeout, 10)
	d(&cfg.Packs.CacheTTL, 24)
	d(&cfg.Packs.MemoryTTL, 60)

	s(&cfg.Log.Level, "info")
	s(&cfg.Log.Format, "text")

	d(&cfg.Security.RateLimit.MaxPerSecond, 10)
	d(&cfg.Security.RateLimit.MaxPerMinute, 60)
	d(&cfg.Security.RateLimit.BanDuration, 60)
	d(&cfg.Security.MessageLimit.MaxPerSecond, 20)
}

// ApplyEnv 读取 .env（若存在）并用环境变量覆盖配置
func (cfg *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	str := func(key string, v *string) {
		if val, ok := os.LookupEnv(key); ok {
			*v = val
		}
	}
	num := func(key string, v *int) error {
		val, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.New("环境变量 " + key + " 不是整数: " + val)
		}
		*v = n
		return nil
	}

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("IDENTITY_SECRET", &cfg.Identity.Secret)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("PACKS_REMOTE_BASE_URL", &cfg.Packs.RemoteBaseURL)
	if err := num("SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	return num("BUILD_VERSION", &cfg.Server.BuildVersion)
}
