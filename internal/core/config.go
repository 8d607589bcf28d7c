package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/protection"
	"github.com/WanderingAshes/TripHarvest/internal/proxypool"
	"github.com/WanderingAshes/TripHarvest/internal/trial"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Captcha    CaptchaConfig    `mapstructure:"captcha"`
	Trial      TrialConfig      `mapstructure:"trial"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Governor   GovernorConfig   `mapstructure:"governor"`
}

// FetchConfig 抓取配置
type FetchConfig struct {
	Mode         string        `mapstructure:"mode"`          // all/static/dynamic
	Headless     bool          `mapstructure:"headless"`      // 无头模式
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`   // 导航超时
	ExtraWait    time.Duration `mapstructure:"extra_wait"`    // 加载后额外等待
	MaxAttempts  int           `mapstructure:"max_attempts"`  // 换代理重试次数
	Intensity    string        `mapstructure:"intensity"`     // 行为模拟强度 low/medium/high
	IdentityFile string        `mapstructure:"identity_file"` // 浏览器身份目录文件
	Concurrency  int           `mapstructure:"concurrency"`   // 批量抓取并发任务数
}

// ProxyConfig 代理池配置
type ProxyConfig struct {
	Sources        []string       `mapstructure:"sources"`
	Strategy       string         `mapstructure:"strategy"`
	MaxFailCount   int            `mapstructure:"max_fail_count"`
	MinTrialCount  int            `mapstructure:"min_trial_count"`
	ReloadInterval time.Duration  `mapstructure:"reload_interval"`
	ScoreWindow    time.Duration  `mapstructure:"score_window"`
	Static         []models.Proxy `mapstructure:"static"`
	APIURL         string         `mapstructure:"api_url"`
	APIToken       string         `mapstructure:"api_token"`
}

// CaptchaConfig 防护挑战解决配置
type CaptchaConfig struct {
	Providers      []protection.ProviderConfig `mapstructure:"providers"`
	SolveTimeout   time.Duration               `mapstructure:"solve_timeout"`
	PassiveBudget  time.Duration               `mapstructure:"passive_budget"`
	ManualFallback bool                        `mapstructure:"manual_fallback"`
	ManualBudget   time.Duration               `mapstructure:"manual_budget"`
	ScreenshotDir  string                      `mapstructure:"screenshot_dir"`
	ScreenshotKeep int                         `mapstructure:"screenshot_keep"`
}

// TrialConfig 试用账号配置
type TrialConfig struct {
	MailboxProvider string        `mapstructure:"mailbox_provider"`
	ConfirmBudget   time.Duration `mapstructure:"confirm_budget"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
}

// MonitoringConfig 监控反馈配置
type MonitoringConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// StorageConfig 持久化配置
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// GovernorConfig 会话资源管控配置
type GovernorConfig struct {
	MaxSessions       int   `mapstructure:"max_sessions"`
	CPULoadThreshold  int   `mapstructure:"cpu_load_threshold"`
	SafetyReserveMB   int64 `mapstructure:"safety_reserve_mb"`
	SafetyThresholdMB int64 `mapstructure:"safety_threshold_mb"`
	SessionMemoryMB   int64 `mapstructure:"session_memory_mb"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tripharvest"))
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时直接用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 抓取默认值
	v.SetDefault("fetch.mode", "all")
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.nav_timeout", "60s")
	v.SetDefault("fetch.extra_wait", "3s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.intensity", "medium")
	v.SetDefault("fetch.identity_file", "configs/identities.yaml")
	v.SetDefault("fetch.concurrency", 2)

	// 代理池默认值
	v.SetDefault("proxy.sources", []string{"mixed"})
	v.SetDefault("proxy.strategy", "round_robin")
	v.SetDefault("proxy.max_fail_count", 3)
	v.SetDefault("proxy.min_trial_count", 5)
	v.SetDefault("proxy.reload_interval", "10m")
	v.SetDefault("proxy.score_window", "1h")

	// 挑战解决默认值
	v.SetDefault("captcha.solve_timeout", "180s")
	v.SetDefault("captcha.passive_budget", "45s")
	v.SetDefault("captcha.manual_fallback", false)
	v.SetDefault("captcha.manual_budget", "5m")
	v.SetDefault("captcha.screenshot_dir", "screenshots")
	v.SetDefault("captcha.screenshot_keep", 50)

	// 试用账号默认值
	v.SetDefault("trial.mailbox_provider", "mailtm")
	v.SetDefault("trial.confirm_budget", "3m")
	v.SetDefault("trial.probe_timeout", "10s")

	// 监控默认值
	v.SetDefault("monitoring.retention", "24h")

	// 持久化默认值
	v.SetDefault("storage.data_dir", "data")

	// 日志默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 资源管控默认值
	v.SetDefault("governor.max_sessions", 4)
	v.SetDefault("governor.cpu_load_threshold", 85)
	v.SetDefault("governor.safety_reserve_mb", 1024)
	v.SetDefault("governor.safety_threshold_mb", 512)
	v.SetDefault("governor.session_memory_mb", 400)
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Fetch.Mode {
	case "all", "static", "dynamic":
	default:
		return fmt.Errorf("无效的抓取模式: %s (可选 all/static/dynamic)", c.Fetch.Mode)
	}

	if !models.ValidStrategy(c.Proxy.Strategy) {
		return fmt.Errorf("无效的代理选取策略: %s", c.Proxy.Strategy)
	}

	for _, provider := range c.Captcha.Providers {
		if !protection.ValidProvider(string(provider.Name)) {
			return fmt.Errorf("未知的打码服务商: %s", provider.Name)
		}
	}

	if !trial.ValidMailboxProvider(c.Trial.MailboxProvider) {
		return fmt.Errorf("未知的临时邮箱服务商: %s", c.Trial.MailboxProvider)
	}

	switch browser.Intensity(c.Fetch.Intensity) {
	case browser.IntensityLow, browser.IntensityMedium, browser.IntensityHigh:
	default:
		return fmt.Errorf("无效的行为模拟强度: %s", c.Fetch.Intensity)
	}

	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts必须>=1, 当前值: %d", c.Fetch.MaxAttempts)
	}
	return nil
}

// ProxyPoolConfig 转换为代理池配置
func (c *Config) ProxyPoolConfig() proxypool.Config {
	return proxypool.Config{
		Sources:        c.Proxy.Sources,
		Strategy:       models.SelectionStrategy(c.Proxy.Strategy),
		MaxFailCount:   c.Proxy.MaxFailCount,
		MinTrialCount:  c.Proxy.MinTrialCount,
		ReloadInterval: c.Proxy.ReloadInterval,
		ScoreWindow:    c.Proxy.ScoreWindow,
		Static:         c.Proxy.Static,
		API: proxypool.APISourceConfig{
			URL:   c.Proxy.APIURL,
			Token: c.Proxy.APIToken,
		},
	}
}

// ResolverConfig 转换为挑战解决器配置
func (c *Config) ResolverConfig() protection.Config {
	return protection.Config{
		Providers:      c.Captcha.Providers,
		SolveTimeout:   c.Captcha.SolveTimeout,
		PassiveBudget:  c.Captcha.PassiveBudget,
		ManualFallback: c.Captcha.ManualFallback,
		ManualBudget:   c.Captcha.ManualBudget,
	}
}

// BrowserOptions 转换为浏览器会话选项
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:   c.Fetch.Headless,
		NavTimeout: c.Fetch.NavTimeout,
		ExtraWait:  c.Fetch.ExtraWait,
	}
}

// GovernorSettings 转换为会话管控配置
func (c *Config) GovernorSettings() browser.GovernorConfig {
	return browser.GovernorConfig{
		SafetyReserveMemory: c.Governor.SafetyReserveMB * 1024 * 1024,
		SafetyThreshold:     c.Governor.SafetyThresholdMB * 1024 * 1024,
		CPULoadThreshold:    c.Governor.CPULoadThreshold,
		MaxSessionsLimit:    c.Governor.MaxSessions,
		SessionMemoryUsage:  c.Governor.SessionMemoryMB * 1024 * 1024,
	}
}

// TrialLifecycleConfig 转换为试用账号配置
func (c *Config) TrialLifecycleConfig() trial.LifecycleConfig {
	return trial.LifecycleConfig{
		MailboxProvider: trial.MailboxProvider(c.Trial.MailboxProvider),
		ConfirmBudget:   c.Trial.ConfirmBudget,
		ProbeTimeout:    c.Trial.ProbeTimeout,
	}
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}
