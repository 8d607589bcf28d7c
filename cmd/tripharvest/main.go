package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/config"
	"github.com/WanderingAshes/TripHarvest/internal/core"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/monitor"
	"github.com/WanderingAshes/TripHarvest/internal/protection"
	"github.com/WanderingAshes/TripHarvest/internal/proxypool"
	"github.com/WanderingAshes/TripHarvest/internal/store"
	"github.com/WanderingAshes/TripHarvest/internal/trial"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	logLevel   string

	validateConfig bool // 验证配置文件

	// 抓取参数
	targetURL   string
	platform    string
	urlFile     string
	mode        string
	headless    bool
	outputDir   string
	maxRetries  int
	preferTrial bool
)

var rootCmd = &cobra.Command{
	Use:   "tripharvest",
	Short: "旅行平台可用性日历抓取工具",
	Long: `TripHarvest - 抗风控的旅行平台可用性抓取工具 (Go版本)

自动化抓取Airbnb/Booking/VRBO等平台的房源可用性日历,支持:
  • 静态快速路径与浏览器动态路径自动切换
  • 多来源代理池(静态配置/API/试用账号)与评分轮换
  • Cloudflare/Turnstile/hCaptcha/reCAPTCHA挑战自动解决
  • 代理服务商试用账号自动注册与回收
  • 抓取成功率与代理健康度持续监控

使用示例:
  # 抓取单个房源
  tripharvest -u https://www.airbnb.com/rooms/12345 -p airbnb

  # 批量抓取
  tripharvest -f targets.txt

  # 验证配置文件
  tripharvest --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := appConfig.LogConfig()
		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		if validateConfig {
			utils.Info("✅ 配置验证通过!")
			utils.Infof("抓取模式: %s, 代理策略: %s, 打码服务商: %d个",
				appConfig.Fetch.Mode, appConfig.Proxy.Strategy, len(appConfig.Captcha.Providers))
			return nil
		}

		if targetURL == "" && urlFile == "" {
			return cmd.Help()
		}

		// 命令行参数覆盖配置文件
		if cmd.Flags().Changed("mode") {
			appConfig.Fetch.Mode = mode
		}
		if cmd.Flags().Changed("headless") {
			appConfig.Fetch.Headless = headless
		}
		if cmd.Flags().Changed("retries") {
			appConfig.Fetch.MaxAttempts = maxRetries
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}

		// 信号处理(Ctrl+C优雅退出)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			utils.Warnf("收到中断信号: %v, 正在优雅关闭...", sig)
			cancel()
		}()

		app, err := buildApp(ctx, appConfig)
		if err != nil {
			return err
		}
		defer app.shutdown()

		if preferTrial {
			app.pool.PrioritizeTrialProxies(ctx)
		}

		// 收集抓取目标
		var targets []utils.FetchTarget
		if urlFile != "" {
			targets, err = utils.ReadTargetsFromFile(urlFile, models.ValidateURL)
			if err != nil {
				return fmt.Errorf("读取目标文件失败: %w", err)
			}
		} else {
			if err := models.ValidateURL(targetURL); err != nil {
				return fmt.Errorf("无效的目标URL: %w", err)
			}
			targets = []utils.FetchTarget{{URL: targetURL, Platform: platform}}
		}

		results := app.orchestrator.FetchBatch(ctx, targets)
		if err := saveResults(outputDir, results); err != nil {
			return err
		}

		printSummary(results, app.resolver.Tracker())
		utils.Info("✨ 抓取任务完成!")
		return nil
	},
}

// app 组装好的运行时组件
type app struct {
	orchestrator *core.Orchestrator
	resolver     *protection.Resolver
	pool         *proxypool.Pool
	governor     *browser.SessionGovernor
	lifecycle    *trial.Lifecycle
	driver       *trial.LazyBrowserDriver
}

// buildApp 按配置组装全部组件
func buildApp(ctx context.Context, appConfig *core.Config) (*app, error) {
	dataStore, err := store.New(appConfig.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("初始化数据目录失败: %w", err)
	}

	// 监控反馈: 从磁盘恢复历史记录
	feedback := monitor.New(dataStore, appConfig.Monitoring.Retention)
	if records, err := dataStore.LoadRecords(time.Now().Add(-appConfig.Monitoring.Retention)); err == nil {
		feedback.Warm(records)
	} else {
		utils.Warnf("恢复监控记录失败: %v", err)
	}

	// 浏览器身份目录
	loader := config.NewIdentityCatalogLoader(appConfig.Fetch.IdentityFile)
	if err := loader.EnsureConfigExists(); err != nil {
		utils.Warnf("生成身份目录文件失败: %v", err)
	}
	identities, err := loader.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("加载浏览器身份目录失败: %w", err)
	}

	// 试用账号生命周期
	driver := trial.NewLazyBrowserDriver(identities[0], appConfig.BrowserOptions())
	lifecycle, err := trial.NewLifecycle(appConfig.TrialLifecycleConfig(), dataStore, trial.NewMailboxClient(), driver)
	if err != nil {
		return nil, fmt.Errorf("初始化试用账号管理失败: %w", err)
	}

	// 代理池
	pool := proxypool.New(appConfig.ProxyPoolConfig(), feedback, lifecycle)
	if err := pool.Load(ctx); err != nil {
		utils.Warnf("代理池初次装载失败: %v", err)
	}
	pool.StartReloadLoop(ctx)

	// 挑战解决器
	screenshots := utils.NewScreenshotKeeper(appConfig.Captcha.ScreenshotDir, appConfig.Captcha.ScreenshotKeep)
	resolver := protection.NewResolver(appConfig.ResolverConfig(), protection.NewTracker(), screenshots)

	// 会话资源管控
	governor := browser.NewSessionGovernor(appConfig.GovernorSettings())
	governor.StartMonitoring(30 * time.Second)

	orchestrator := core.NewOrchestrator(appConfig, pool, feedback, resolver, governor, identities)

	return &app{
		orchestrator: orchestrator,
		resolver:     resolver,
		pool:         pool,
		governor:     governor,
		lifecycle:    lifecycle,
		driver:       driver,
	}, nil
}

// shutdown 释放运行时资源
func (a *app) shutdown() {
	a.governor.StopMonitoring()
	a.driver.Close()
}

// saveResults 把抓取结果写入输出目录
func saveResults(outputDir string, results []models.FetchResult) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("availability_%s.json", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
		return fmt.Errorf("写入结果文件失败: %w", err)
	}

	utils.Infof("✅ 结果已保存: %s", outputPath)
	return nil
}

// printSummary 打印抓取统计
func printSummary(results []models.FetchResult, tracker *protection.Tracker) {
	succeeded, failed, totalRecords := 0, 0, 0
	for i := range results {
		if results[i].OK() {
			succeeded++
			totalRecords += len(results[i].Records)
		} else {
			failed++
		}
	}

	snapshot := tracker.Snapshot()
	detected := 0
	for _, count := range snapshot.Detected {
		detected += count
	}

	fmt.Println("\n==================================================")
	fmt.Println("📊 抓取统计")
	fmt.Println("==================================================")
	fmt.Printf("✅ 成功任务: %d\n", succeeded)
	fmt.Printf("❌ 失败任务: %d\n", failed)
	fmt.Printf("📅 日历记录总数: %d\n", totalRecords)
	fmt.Printf("🔍 检出挑战: %d\n", detected)
	fmt.Printf("✅ 解决挑战: %d\n", snapshot.Solved)
	fmt.Printf("❌ 挑战失败: %d\n", snapshot.Failed)
	fmt.Println("==================================================")
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "管理代理服务商试用账号",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出当前试用账号(脱敏)",
	RunE: func(cmd *cobra.Command, args []string) error {
		lifecycle, cleanup, err := buildLifecycle(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		summaries := lifecycle.Summaries()
		if len(summaries) == 0 {
			utils.Info("当前没有试用账号")
			return nil
		}

		jsonData, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化账号列表失败: %w", err)
		}
		fmt.Println(string(jsonData))
		return nil
	},
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "注册一个新的试用账号",
	RunE: func(cmd *cobra.Command, args []string) error {
		lifecycle, cleanup, err := buildLifecycle(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		account := lifecycle.CreateAccount(cmd.Context())
		if account == nil {
			return fmt.Errorf("试用账号注册失败")
		}
		utils.Infof("✅ 账号已创建: 服务商=%s, 代理数=%d", account.Provider, len(account.Proxies))
		return nil
	},
}

var accountsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "校验现有账号可用性并清除失效账号",
	RunE: func(cmd *cobra.Command, args []string) error {
		lifecycle, cleanup, err := buildLifecycle(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		valid, pruned := lifecycle.ValidateExisting(cmd.Context())
		utils.Infof("✅ 账号校验完成: 有效=%d, 清除=%d", valid, pruned)
		return nil
	},
}

var accountsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理已过期的试用账号",
	RunE: func(cmd *cobra.Command, args []string) error {
		lifecycle, cleanup, err := buildLifecycle(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		removed := lifecycle.CleanupExpired()
		utils.Infof("✅ 已清理过期账号: %d个", removed)
		return nil
	},
}

// buildLifecycle 组装账号管理所需的最小组件
func buildLifecycle(ctx context.Context) (*trial.Lifecycle, func(), error) {
	appConfig, err := core.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	dataStore, err := store.New(appConfig.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化数据目录失败: %w", err)
	}

	loader := config.NewIdentityCatalogLoader(appConfig.Fetch.IdentityFile)
	if err := loader.EnsureConfigExists(); err != nil {
		utils.Warnf("生成身份目录文件失败: %v", err)
	}
	identities, err := loader.LoadCatalog()
	if err != nil {
		return nil, nil, fmt.Errorf("加载浏览器身份目录失败: %w", err)
	}

	driver := trial.NewLazyBrowserDriver(identities[0], appConfig.BrowserOptions())
	lifecycle, err := trial.NewLifecycle(appConfig.TrialLifecycleConfig(), dataStore, trial.NewMailboxClient(), driver)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化试用账号管理失败: %w", err)
	}
	return lifecycle, driver.Close, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("TripHarvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Println("Go实现版本 - 抗风控可用性抓取工具")
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 抓取参数
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标房源URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&platform, "platform", "p", "generic", "平台标识 (airbnb|booking|vrbo|generic)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含目标列表的文件路径 (每行: [平台] URL)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "all", "抓取模式 (all|static|dynamic)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().IntVar(&maxRetries, "retries", 3, "换代理重试次数")
	rootCmd.Flags().BoolVar(&preferTrial, "prefer-trial", false, "优先使用试用账号代理")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "结果输出目录")

	// 添加子命令
	accountsCmd.AddCommand(accountsListCmd, accountsCreateCmd, accountsValidateCmd, accountsCleanupCmd)
	rootCmd.AddCommand(accountsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
