package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/monitor"
	"github.com/WanderingAshes/TripHarvest/internal/protection"
	"github.com/WanderingAshes/TripHarvest/internal/proxypool"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// Orchestrator 可用性抓取编排器
// 串起代理池、浏览器会话、防护挑战解决和监控反馈,
// 对外只暴露结构化的终态结果
type Orchestrator struct {
	cfg        *Config
	pool       *proxypool.Pool
	feedback   *monitor.Feedback
	resolver   *protection.Resolver
	probe      *StaticProbe
	governor   *browser.SessionGovernor
	identities []models.BrowserIdentity
	rnd        *rand.Rand
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *Config,
	pool *proxypool.Pool,
	feedback *monitor.Feedback,
	resolver *protection.Resolver,
	governor *browser.SessionGovernor,
	identities []models.BrowserIdentity,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		pool:       pool,
		feedback:   feedback,
		resolver:   resolver,
		probe:      NewStaticProbe(identities, cfg.Fetch.NavTimeout),
		governor:   governor,
		identities: identities,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ResolveAvailability 抓取一个目标的可用性日历
// 永远返回终态结果,内部任何崩溃都不会外泄
func (o *Orchestrator) ResolveAvailability(ctx context.Context, targetURL, platform string) (result models.FetchResult) {
	start := time.Now()
	result = models.FetchResult{
		TaskID:   models.NewID(),
		URL:      targetURL,
		Platform: platform,
	}

	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("抓取任务内部崩溃: %v", r)
			result.Failure = models.FailNavigation
			result.Message = fmt.Sprintf("内部错误: %v", r)
		}
		result.Duration = time.Since(start).Seconds()
		result.FetchedAt = time.Now()
	}()

	if err := models.ValidateURL(targetURL); err != nil {
		result.Failure = models.FailNavigation
		result.Message = err.Error()
		return result
	}

	mode := models.FetchMode(o.cfg.Fetch.Mode)
	utils.Infof("🚀 开始抓取: %s (平台=%s, 模式=%s, 任务=%s)", targetURL, platform, mode, result.TaskID)

	// 静态快速路径
	if mode == models.ModeAll || mode == models.ModeStatic {
		done := o.tryStatic(ctx, targetURL, platform, mode, &result)
		if done {
			return result
		}
	}

	// 浏览器动态路径
	o.fetchDynamic(ctx, targetURL, platform, &result)
	return result
}

// tryStatic 静态探测,返回true表示已得出终态结果
func (o *Orchestrator) tryStatic(ctx context.Context, targetURL, platform string, mode models.FetchMode, result *models.FetchResult) bool {
	proxy, err := o.pool.Next()
	if err != nil {
		// 代理池耗尽是硬停止, 绝不降级为直连
		result.Failure = models.FailNoProxy
		result.Message = err.Error()
		return true
	}

	attemptStart := time.Now()
	result.Attempts++
	outcome := o.probe.Fetch(targetURL, platform, proxy)
	latency := time.Since(attemptStart).Milliseconds()

	switch {
	case outcome.Err != nil:
		utils.Warnf("静态探测失败: %v", outcome.Err)
		o.pool.ReportFailure(proxy)
		o.feedback.Record(platform, false, latency, proxy.Key())
		if mode == models.ModeStatic {
			result.Failure = models.FailNavigation
			result.Message = outcome.Err.Error()
			return true
		}
		return false

	case outcome.Blocked:
		utils.Infof("🌐 静态探测被拦截, 转浏览器路径: %s", targetURL)
		if mode == models.ModeStatic {
			result.Failure = models.FailBlocked
			result.Message = "静态探测被防护拦截"
			result.ProxyKey = proxy.Key()
			return true
		}
		return false

	default:
		o.pool.ReportSuccess(proxy)
		o.feedback.Record(platform, true, latency, proxy.Key())
		result.ProxyKey = proxy.Key()
		result.Records = outcome.Records
		utils.Infof("✅ 静态路径抓取成功: %s (记录数=%d)", targetURL, len(outcome.Records))
		return true
	}
}

// fetchDynamic 浏览器路径: 换代理重试直到成功或耗尽尝试次数
func (o *Orchestrator) fetchDynamic(ctx context.Context, targetURL, platform string, result *models.FetchResult) {
	maxAttempts := o.cfg.Fetch.MaxAttempts
	providersExhausted := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			result.Failure = models.FailNavigation
			result.Message = ctx.Err().Error()
			return
		default:
		}

		proxy, err := o.pool.Next()
		if err != nil {
			result.Failure = models.FailNoProxy
			result.Message = err.Error()
			return
		}

		result.Attempts++
		utils.Infof("🔄 浏览器尝试 %d/%d: 代理=%s", attempt, maxAttempts, proxy.Key())

		records, outcome := o.attemptOnce(ctx, targetURL, platform, proxy)
		switch outcome {
		case attemptSuccess:
			result.Records = records
			result.ProxyKey = proxy.Key()
			utils.Infof("✅ 浏览器路径抓取成功: %s (记录数=%d)", targetURL, len(records))
			return
		case attemptExtractFailed:
			// 页面已打开但解析不出日历, 换代理也救不回来
			result.Failure = models.FailExtraction
			result.Message = "页面解析失败: 未找到日历数据"
			result.ProxyKey = proxy.Key()
			return
		case attemptProvidersExhausted:
			providersExhausted = true
		}
	}

	if providersExhausted {
		result.Failure = models.FailProvidersExhausted
		result.Message = fmt.Sprintf("打码服务全部失败, 已尝试%d次", result.Attempts)
		return
	}
	result.Failure = models.FailBlocked
	result.Message = fmt.Sprintf("连续%d次尝试均被拦截", result.Attempts)
}

// attemptOutcome 单次浏览器尝试的结论
type attemptOutcome int

const (
	attemptSuccess attemptOutcome = iota
	attemptBlocked
	attemptProvidersExhausted
	attemptExtractFailed
)

// attemptOnce 起一个浏览器会话完成一次完整尝试
func (o *Orchestrator) attemptOnce(ctx context.Context, targetURL, platform string, proxy *models.Proxy) ([]models.DateAvailability, attemptOutcome) {
	attemptStart := time.Now()

	fail := func(outcome attemptOutcome) ([]models.DateAvailability, attemptOutcome) {
		o.pool.ReportFailure(proxy)
		o.feedback.Record(platform, false, time.Since(attemptStart).Milliseconds(), proxy.Key())
		return nil, outcome
	}

	// 资源不足是本机问题, 不算在代理头上
	if err := o.governor.Acquire(); err != nil {
		utils.Warnf("会话资源不足: %v", err)
		return nil, attemptBlocked
	}
	defer o.governor.Release()

	identity := o.pickIdentity()
	session, err := browser.Open(ctx, identity, proxy, o.cfg.BrowserOptions())
	if err != nil {
		utils.Warnf("启动浏览器会话失败: %v", err)
		return fail(attemptBlocked)
	}
	defer session.Close()

	page, err := session.NewPage()
	if err != nil {
		utils.Warnf("创建页面失败: %v", err)
		return fail(attemptBlocked)
	}

	if err := session.Navigate(page, targetURL); err != nil {
		if errors.Is(err, browser.ErrSessionCrashed) {
			utils.Warnf("会话崩溃, 换代理重试: %s", proxy.Key())
		} else {
			utils.Warnf("导航失败: %v", err)
		}
		return fail(attemptBlocked)
	}

	// 拟人行为再进挑战检测, 降低行为指纹暴露
	if err := session.SimulateHumanBehavior(page, browser.Intensity(o.cfg.Fetch.Intensity)); err != nil {
		utils.Debugf("行为模拟中断: %v", err)
	}

	rodPage := protection.NewRodPage(session, page)
	state, err := o.resolver.Resolve(ctx, rodPage)
	if err != nil || state != protection.StateCleared {
		outcome := attemptBlocked
		if o.failedOnSolverChallenge(rodPage) {
			outcome = attemptProvidersExhausted
		}
		return fail(outcome)
	}

	pageHTML, err := page.HTML()
	if err != nil {
		utils.Warnf("读取页面内容失败: %v", err)
		return fail(attemptBlocked)
	}

	// 挑战虽已清除, 页面仍可能是不带挑战组件的硬封锁页 (access denied等)
	if verdict := browser.ClassifyHTML(pageHTML); verdict.Blocked {
		utils.Warnf("🔍 页面仍处于封锁状态: 特征=%q", verdict.Signal)
		return fail(attemptBlocked)
	}

	records, err := ExtractCalendar(pageHTML, platform)
	if err != nil {
		utils.Warnf("日历提取失败: %v", err)
		// 页面本身是通的, 不算代理的账
		o.feedback.Record(platform, false, time.Since(attemptStart).Milliseconds(), proxy.Key())
		return nil, attemptExtractFailed
	}

	o.pool.ReportSuccess(proxy)
	o.feedback.Record(platform, true, time.Since(attemptStart).Milliseconds(), proxy.Key())
	return records, attemptSuccess
}

// failedOnSolverChallenge 判断失败的页面是否卡在需要打码服务的挑战上
func (o *Orchestrator) failedOnSolverChallenge(page protection.ChallengePage) bool {
	html, err := page.HTML()
	if err != nil {
		return false
	}
	if !protection.Detect(html, page.URL()) {
		return false
	}
	return protection.Classify(html, page.URL()).NeedsSolver()
}

// pickIdentity 随机挑一个浏览器身份
func (o *Orchestrator) pickIdentity() models.BrowserIdentity {
	if len(o.identities) == 0 {
		return models.BrowserIdentity{
			Name:           "fallback_chrome",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Locale:         "en-US",
			Timezone:       "America/New_York",
			AcceptLanguage: "en-US,en;q=0.9",
			Platform:       "Win32",
		}
	}
	return o.identities[o.rnd.Intn(len(o.identities))]
}
