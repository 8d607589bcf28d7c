package protection

import (
	"context"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// State 单个页面上的解决流程状态
// Unknown → Detected → Resolving → {Cleared | Failed}
type State string

const (
	StateUnknown   State = "unknown"
	StateDetected  State = "detected"
	StateResolving State = "resolving"
	StateCleared   State = "cleared"
	StateFailed    State = "failed"
)

// ChallengePage 解决流程对页面的最小依赖
// 由浏览器会话适配实现,测试中可用假页面替代
type ChallengePage interface {
	HTML() (string, error)
	URL() string
	Reload() error
	InjectToken(challenge ChallengeType, token string) error
	Screenshot() ([]byte, error)
	SimulateBehavior() error
}

// Config 解决器配置
type Config struct {
	Providers []ProviderConfig

	SolveTimeout time.Duration // 单服务商打码时限 (默认180秒)

	PassivePollInterval time.Duration // 被动等待轮询间隔 (默认2秒)
	PassiveBudget       time.Duration // 被动等待预算 (默认45秒)

	ManualFallback     bool          // 是否启用人工兜底
	ManualPollInterval time.Duration // 人工兜底轮询间隔 (默认5秒)
	ManualBudget       time.Duration // 人工兜底预算 (默认5分钟)
}

// withDefaults 填充默认值
func (c Config) withDefaults() Config {
	if c.SolveTimeout <= 0 {
		c.SolveTimeout = 180 * time.Second
	}
	if c.PassivePollInterval <= 0 {
		c.PassivePollInterval = 2 * time.Second
	}
	if c.PassiveBudget <= 0 {
		c.PassiveBudget = 45 * time.Second
	}
	if c.ManualPollInterval <= 0 {
		c.ManualPollInterval = 5 * time.Second
	}
	if c.ManualBudget <= 0 {
		c.ManualBudget = 5 * time.Minute
	}
	return c
}

// Resolver 防护挑战解决器
type Resolver struct {
	cfg         Config
	solver      *SolverClient
	tracker     *Tracker
	screenshots *utils.ScreenshotKeeper
}

// NewResolver 创建解决器
// screenshots可为nil,表示人工兜底不留存截图
func NewResolver(cfg Config, tracker *Tracker, screenshots *utils.ScreenshotKeeper) *Resolver {
	cfg = cfg.withDefaults()
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Resolver{
		cfg:         cfg,
		solver:      NewSolverClient(cfg.SolveTimeout),
		tracker:     tracker,
		screenshots: screenshots,
	}
}

// Tracker 返回统计器,供外部报告使用
func (r *Resolver) Tracker() *Tracker {
	return r.tracker
}

// Resolve 驱动完整的挑战解决流程
// 页面无挑战时直接以Cleared结束,不触碰任何服务商
func (r *Resolver) Resolve(ctx context.Context, page ChallengePage) (State, error) {
	html, err := page.HTML()
	if err != nil {
		return StateFailed, err
	}

	if !Detect(html, page.URL()) {
		return StateCleared, nil
	}

	challenge := Classify(html, page.URL())
	r.tracker.RecordDetected(challenge)
	utils.Warnf("🔍 检出防护挑战: 类型=%s", challenge)

	var cleared bool
	switch {
	case challenge.NeedsPassiveWait():
		cleared = r.passiveWait(ctx, page)
	case challenge.NeedsSolver():
		cleared = r.solveWithProviders(ctx, page, challenge, html)
	default:
		cleared = r.manualFallback(ctx, page)
	}

	if cleared {
		r.tracker.RecordSolved()
		utils.Infof("✅ 挑战已清除: 类型=%s", challenge)
		return StateCleared, nil
	}
	r.tracker.RecordFailed()
	utils.Warnf("❌ 挑战解决失败: 类型=%s", challenge)
	return StateFailed, nil
}

// passiveWait 被动等待路径: 模拟人类行为并轮询挑战消失
// 预算耗尽后做一次页面重载并复查,仍未消失则失败
func (r *Resolver) passiveWait(ctx context.Context, page ChallengePage) bool {
	deadline := time.Now().Add(r.cfg.PassiveBudget)
	for time.Now().Before(deadline) {
		if err := page.SimulateBehavior(); err != nil {
			utils.Debugf("被动等待中行为模拟失败,忽略: %v", err)
		}

		if r.pageCleared(page) {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.cfg.PassivePollInterval):
		}
	}

	// 超时兜底: 重载一次再查一次
	utils.Debug("被动等待超时,重载页面复查")
	if err := page.Reload(); err != nil {
		utils.Warnf("重载页面失败: %v", err)
		return false
	}
	return r.pageCleared(page)
}

// solveWithProviders 外部打码路径
// 按优先级逐个尝试服务商,第一个拿到token并通过注入后复检的服务商胜出
func (r *Resolver) solveWithProviders(ctx context.Context, page ChallengePage, challenge ChallengeType, html string) bool {
	siteKey, err := ExtractSiteKey(html, challenge)
	if err != nil {
		utils.Warnf("提取site key失败: %v", err)
		return false
	}

	ordered := r.tracker.PrioritizedServices(r.cfg.Providers)
	if len(ordered) == 0 {
		utils.Warn("没有可用的打码服务商")
		return false
	}

	request := SolveRequest{
		Challenge: challenge,
		SiteKey:   siteKey,
		PageURL:   page.URL(),
	}

	for _, provider := range ordered {
		utils.Infof("尝试打码服务商: %s (优先级=%d)", provider.Name, provider.Priority)

		token, err := r.solver.Solve(ctx, provider, request)
		if err != nil {
			utils.Warnf("服务商 %s 打码失败: %v", provider.Name, err)
			r.tracker.RecordProviderResult(provider.Name, false)
			continue
		}

		if err := page.InjectToken(challenge, token); err != nil {
			utils.Warnf("注入token失败: %v", err)
			r.tracker.RecordProviderResult(provider.Name, false)
			continue
		}

		// 注入后必须复检确认,服务商声称的成功不可信
		if r.pageCleared(page) {
			r.tracker.RecordProviderResult(provider.Name, true)
			return true
		}
		utils.Warnf("服务商 %s 的token注入后挑战仍在,视为失败", provider.Name)
		r.tracker.RecordProviderResult(provider.Name, false)
	}

	return false
}

// manualFallback 人工兜底路径: 留存截图并轮询等待人工处理
func (r *Resolver) manualFallback(ctx context.Context, page ChallengePage) bool {
	if !r.cfg.ManualFallback {
		utils.Debug("人工兜底未启用,直接失败")
		return false
	}

	if r.screenshots != nil {
		if data, err := page.Screenshot(); err == nil {
			if path, err := r.screenshots.Save(models.NewID(), data); err == nil {
				utils.Infof("📸 挑战截图已留存,等待人工处理: %s", path)
			}
		} else {
			utils.Warnf("挑战截图失败: %v", err)
		}
	}

	deadline := time.Now().Add(r.cfg.ManualBudget)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.cfg.ManualPollInterval):
		}

		if r.pageCleared(page) {
			return true
		}
	}
	return false
}

// pageCleared 读取当前页面并复检挑战是否消失
func (r *Resolver) pageCleared(page ChallengePage) bool {
	html, err := page.HTML()
	if err != nil {
		utils.Debugf("复检读取页面失败: %v", err)
		return false
	}
	return !Detect(html, page.URL())
}
