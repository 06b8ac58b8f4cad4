package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Scraper  ScraperConfig  `json:"scraper"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`               // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`         // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`         // API 服务监听地址
	ScheduleInterval time.Duration `json:"schedule_interval"` // 调度扫描间隔（如 "1m"）
	WorkerPoolSize   int           `json:"worker_pool_size"`  // 结果处理 Worker Pool 大小
	QueueCapacity    int           `json:"queue_capacity"`    // 内存队列容量
	RateLimit        float64       `json:"rate_limit"`        // 抓取限流速率（token/s）
	RateBurst        float64       `json:"rate_burst"`        // 限流桶容量
	JobTimeout       time.Duration `json:"job_timeout"`       // 单个抓取任务超时（janitor 回收阈值）
	JanitorInterval  time.Duration `json:"janitor_interval"`  // janitor 巡检间隔
	PriceCacheTTL    time.Duration `json:"price_cache_ttl"`   // 降价检测缓存 TTL
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// ScraperConfig 抓取器配置。
type ScraperConfig struct {
	MaxConcurrency int           `json:"max_concurrency"` // 最大并发抓取任务数
	MaxPages       int           `json:"max_pages"`       // 每个站点最多翻页数
	HTTPTimeout    time.Duration `json:"http_timeout"`    // 单次页面请求超时
	UserAgent      string        `json:"user_agent"`      // 请求 User-Agent
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost   string `json:"smtp_host"`
	SMTPPort   int    `json:"smtp_port"`
	SMTPUser   string `json:"smtp_user"`
	SMTPPass   string `json:"smtp_pass"`
	FromEmail  string `json:"from_email"`
	AlertEmail string `json:"alert_email"` // 降价通知收件人（为空则不发）
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string `json:"jwt_secret"`     // JWT 签名密钥
	AdminEmail    string `json:"admin_email"`    // 初始管理员邮箱（seed 用）
	AdminPassword string `json:"admin_password"` // 初始管理员密码（seed 用）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 解析 JSON
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8080",
			ScheduleInterval: 1 * time.Minute,
			WorkerPoolSize:   10,
			QueueCapacity:    500,
			RateLimit:        2,
			RateBurst:        4,
			JobTimeout:       5 * time.Minute,
			JanitorInterval:  1 * time.Minute,
			PriceCacheTTL:    7 * 24 * time.Hour,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/caskwatch?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Scraper: ScraperConfig{
			MaxConcurrency: 3,
			MaxPages:       20,
			HTTPTimeout:    30 * time.Second,
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		},
		Email: EmailConfig{
			SMTPHost:   "smtp.gmail.com",
			SMTPPort:   587,
			SMTPUser:   "",
			SMTPPass:   "",
			FromEmail:  "",
			AlertEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:     "dev_secret_change_me",
			AdminEmail:    "admin@localhost",
			AdminPassword: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.ScheduleInterval == 0 {
		cfg.App.ScheduleInterval = defaults.App.ScheduleInterval
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.JobTimeout == 0 {
		cfg.App.JobTimeout = defaults.App.JobTimeout
	}
	if cfg.App.JanitorInterval == 0 {
		cfg.App.JanitorInterval = defaults.App.JanitorInterval
	}
	if cfg.App.PriceCacheTTL == 0 {
		cfg.App.PriceCacheTTL = defaults.App.PriceCacheTTL
	}
	if cfg.Scraper.MaxConcurrency == 0 {
		cfg.Scraper.MaxConcurrency = defaults.Scraper.MaxConcurrency
	}
	if cfg.Scraper.MaxPages == 0 {
		cfg.Scraper.MaxPages = defaults.Scraper.MaxPages
	}
	if cfg.Scraper.HTTPTimeout == 0 {
		cfg.Scraper.HTTPTimeout = defaults.Scraper.HTTPTimeout
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = defaults.Scraper.UserAgent
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.AdminEmail == "" {
		cfg.Security.AdminEmail = defaults.Security.AdminEmail
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("admin_password", "ADMIN_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ScheduleInterval = d
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}
	if v := os.Getenv("APP_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.JobTimeout = d
		}
	}
	if v := os.Getenv("APP_JANITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.JanitorInterval = d
		}
	}
	if v := os.Getenv("APP_PRICE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.PriceCacheTTL = d
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Security.AdminEmail = v
	}
	if v := viper.GetString("admin_password"); v != "" {
		cfg.Security.AdminPassword = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SCRAPER_MAX_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Scraper.MaxConcurrency = i
		}
	}
	if v := os.Getenv("SCRAPER_MAX_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Scraper.MaxPages = i
		}
	}
	if v := os.Getenv("SCRAPER_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scraper.HTTPTimeout = d
		}
	}
	if v := os.Getenv("SCRAPER_USER_AGENT"); v != "" {
		cfg.Scraper.UserAgent = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("ALERT_EMAIL"); v != "" {
		cfg.Email.AlertEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "caskwatch",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ScheduleInterval string `json:"schedule_interval"`
		JobTimeout       string `json:"job_timeout"`
		JanitorInterval  string `json:"janitor_interval"`
		PriceCacheTTL    string `json:"price_cache_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.ScheduleInterval != "" {
		duration, err := time.ParseDuration(aux.ScheduleInterval)
		if err != nil {
			return fmt.Errorf("invalid schedule_interval format: %w", err)
		}
		a.ScheduleInterval = duration
	}
	if aux.JobTimeout != "" {
		duration, err := time.ParseDuration(aux.JobTimeout)
		if err != nil {
			return fmt.Errorf("invalid job_timeout format: %w", err)
		}
		a.JobTimeout = duration
	}
	if aux.JanitorInterval != "" {
		duration, err := time.ParseDuration(aux.JanitorInterval)
		if err != nil {
			return fmt.Errorf("invalid janitor_interval format: %w", err)
		}
		a.JanitorInterval = duration
	}
	if aux.PriceCacheTTL != "" {
		duration, err := time.ParseDuration(aux.PriceCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid price_cache_ttl format: %w", err)
		}
		a.PriceCacheTTL = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ScheduleInterval string `json:"schedule_interval"`
		JobTimeout       string `json:"job_timeout"`
		JanitorInterval  string `json:"janitor_interval"`
		PriceCacheTTL    string `json:"price_cache_ttl"`
		*Alias
	}{
		ScheduleInterval: a.ScheduleInterval.String(),
		JobTimeout:       a.JobTimeout.String(),
		JanitorInterval:  a.JanitorInterval.String(),
		PriceCacheTTL:    a.PriceCacheTTL.String(),
		Alias:            (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (s *ScraperConfig) UnmarshalJSON(data []byte) error {
	type Alias ScraperConfig
	aux := &struct {
		HTTPTimeout string `json:"http_timeout"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.HTTPTimeout != "" {
		duration, err := time.ParseDuration(aux.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("invalid http_timeout format: %w", err)
		}
		s.HTTPTimeout = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (s ScraperConfig) MarshalJSON() ([]byte, error) {
	type Alias ScraperConfig
	return json.Marshal(&struct {
		HTTPTimeout string `json:"http_timeout"`
		*Alias
	}{
		HTTPTimeout: s.HTTPTimeout.String(),
		Alias:       (*Alias)(&s),
	})
}
