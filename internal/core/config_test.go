package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/protection"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// 空目录下加载: 没有配置文件时全部使用默认值
	cwd, _ := os.Getwd()
	tmpDir := t.TempDir()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("切换目录失败: %v", err)
	}
	defer func() { _ = os.Chdir(cwd) }()

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Fetch.Mode != "all" {
		t.Errorf("默认抓取模式 = %s, want all", config.Fetch.Mode)
	}
	if config.Fetch.NavTimeout != 60*time.Second {
		t.Errorf("默认导航超时 = %v, want 60s", config.Fetch.NavTimeout)
	}
	if config.Fetch.MaxAttempts != 3 {
		t.Errorf("默认重试次数 = %d, want 3", config.Fetch.MaxAttempts)
	}
	if config.Proxy.Strategy != "round_robin" {
		t.Errorf("默认代理策略 = %s, want round_robin", config.Proxy.Strategy)
	}
	if config.Captcha.SolveTimeout != 180*time.Second {
		t.Errorf("默认打码超时 = %v, want 180s", config.Captcha.SolveTimeout)
	}
	if config.Trial.MailboxProvider != "mailtm" {
		t.Errorf("默认邮箱服务商 = %s, want mailtm", config.Trial.MailboxProvider)
	}
	if config.Governor.MaxSessions != 4 {
		t.Errorf("默认最大会话数 = %d, want 4", config.Governor.MaxSessions)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
fetch:
  mode: dynamic
  max_attempts: 5
  nav_timeout: 90s
proxy:
  strategy: random
captcha:
  providers:
    - name: capsolver
      api_key: test-key
      active: true
      priority: 0
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Fetch.Mode != "dynamic" {
		t.Errorf("抓取模式 = %s, want dynamic", config.Fetch.Mode)
	}
	if config.Fetch.MaxAttempts != 5 {
		t.Errorf("重试次数 = %d, want 5", config.Fetch.MaxAttempts)
	}
	if config.Fetch.NavTimeout != 90*time.Second {
		t.Errorf("导航超时 = %v, want 90s", config.Fetch.NavTimeout)
	}
	if config.Proxy.Strategy != "random" {
		t.Errorf("代理策略 = %s, want random", config.Proxy.Strategy)
	}
	if len(config.Captcha.Providers) != 1 || config.Captcha.Providers[0].Name != protection.ProviderCapSolver {
		t.Errorf("打码服务商配置 = %+v", config.Captcha.Providers)
	}
	// 未覆盖的段保持默认
	if config.Trial.ConfirmBudget != 3*time.Minute {
		t.Errorf("确认预算 = %v, want 3m", config.Trial.ConfirmBudget)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		Fetch: FetchConfig{Mode: "all", Intensity: "medium", MaxAttempts: 3},
		Proxy: ProxyConfig{Strategy: "round_robin"},
		Trial: TrialConfig{MailboxProvider: "mailtm"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"合法配置", func(c *Config) {}, false},
		{"非法抓取模式", func(c *Config) { c.Fetch.Mode = "turbo" }, true},
		{"非法代理策略", func(c *Config) { c.Proxy.Strategy = "chaotic" }, true},
		{"非法打码服务商", func(c *Config) {
			c.Captcha.Providers = []protection.ProviderConfig{{Name: "deathbycaptcha"}}
		}, true},
		{"非法邮箱服务商", func(c *Config) { c.Trial.MailboxProvider = "tempmail" }, true},
		{"非法行为强度", func(c *Config) { c.Fetch.Intensity = "extreme" }, true},
		{"重试次数为零", func(c *Config) { c.Fetch.MaxAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GovernorSettings(t *testing.T) {
	config := Config{
		Governor: GovernorConfig{
			MaxSessions:       2,
			CPULoadThreshold:  85,
			SafetyReserveMB:   1024,
			SafetyThresholdMB: 512,
			SessionMemoryMB:   400,
		},
	}

	settings := config.GovernorSettings()
	if settings.SafetyReserveMemory != 1024*1024*1024 {
		t.Errorf("SafetyReserveMemory = %d, want 1GiB", settings.SafetyReserveMemory)
	}
	if settings.SessionMemoryUsage != 400*1024*1024 {
		t.Errorf("SessionMemoryUsage = %d, want 400MiB", settings.SessionMemoryUsage)
	}
	if settings.MaxSessionsLimit != 2 {
		t.Errorf("MaxSessionsLimit = %d, want 2", settings.MaxSessionsLimit)
	}
}
