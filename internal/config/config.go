package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// WebSocketConfig 长连接命令通道配置
type WebSocketConfig struct {
	Path         string        `mapstructure:"path"`
	ReadLimit    int64         `mapstructure:"readLimit"`    // 单帧最大字节数
	PongWait     time.Duration `mapstructure:"pongWait"`     // 未收到 pong 的最长等待
	PingInterval time.Duration `mapstructure:"pingInterval"` // 必须小于 PongWait
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// APIAuthConfig 升级请求的 API Key 校验
type APIAuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// APIConfig API 配置
type APIConfig struct {
	Auth APIAuthConfig `mapstructure:"auth"`
}

// InstanceConfig 单个 Frigate 实例
type InstanceConfig struct {
	ID       string        `mapstructure:"id" yaml:"id" json:"id"`
	URL      string        `mapstructure:"url" yaml:"url" json:"url"`
	Username string        `mapstructure:"username" yaml:"username" json:"username,omitempty"`
	Password string        `mapstructure:"password" yaml:"password" json:"password,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout,omitempty"`
}

// FrigateConfig Frigate 客户端公共配置
type FrigateConfig struct {
	Timeout          time.Duration    `mapstructure:"timeout"`
	RatePerSec       int              `mapstructure:"ratePerSec"`
	Burst            int              `mapstructure:"burst"`
	Retries          int              `mapstructure:"retries"`          // 仅对 GET 生效
	BreakerThreshold int              `mapstructure:"breakerThreshold"` // 连续失败次数，<=0 关闭熔断
	BreakerCooldown  time.Duration    `mapstructure:"breakerCooldown"`
	InstancesFile    string           `mapstructure:"instancesFile"`
	Instances        []InstanceConfig `mapstructure:"instances"`
}

// RedisConfig 共享实例目录（可选）
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	InstancesKey string        `mapstructure:"instancesKey"`
	SyncInterval time.Duration `mapstructure:"syncInterval"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	API       APIConfig       `mapstructure:"api"`
	Frigate   FrigateConfig   `mapstructure:"frigate"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 FGW_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 FGW_，并将点号替换为下划线
	v.SetEnvPrefix("FGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.pingInterval (%s) must be less than websocket.pongWait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	seen := make(map[string]struct{}, len(c.Frigate.Instances))
	for i, inst := range c.Frigate.Instances {
		if inst.ID == "" || inst.URL == "" {
			return fmt.Errorf("frigate.instances[%d]: id and url are required", i)
		}
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("frigate.instances[%d]: duplicate id %q", i, inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "frigate-gateway")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("websocket.path", "/api/websocket")
	v.SetDefault("websocket.readLimit", 64*1024)
	v.SetDefault("websocket.pongWait", "60s")
	v.SetDefault("websocket.pingInterval", "30s")
	v.SetDefault("websocket.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/frigate-gateway.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("api.auth.enabled", false)

	v.SetDefault("frigate.timeout", "10s")
	v.SetDefault("frigate.ratePerSec", 20)
	v.SetDefault("frigate.burst", 40)
	v.SetDefault("frigate.retries", 2)
	v.SetDefault("frigate.breakerThreshold", 5)
	v.SetDefault("frigate.breakerCooldown", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.instancesKey", "frigate:instances")
	v.SetDefault("redis.syncInterval", "30s")
}
