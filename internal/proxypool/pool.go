package proxypool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoProxyAvailable 代理池耗尽
	// 调用方必须将其视为本次尝试的硬停止,不允许静默降级为直连
	ErrNoProxyAvailable = errors.New("代理池为空,无可用代理")
)

// FeedbackSource 历史表现数据源 (由监控反馈中心实现)
type FeedbackSource interface {
	ProxyAggregate(proxyKey string, window time.Duration) models.Aggregate
}

// TrialProxySource 试用账号代理数据源 (由试用账号生命周期组件实现)
type TrialProxySource interface {
	ActiveTrialProxies() []models.Proxy
}

// Config 代理池配置
type Config struct {
	Sources        []string                 // 启用的来源: static/api/trial,或 mixed 表示全部
	Strategy       models.SelectionStrategy // 选取策略
	MaxFailCount   int                      // 连续失败剔除阈值 (默认3)
	MinTrialCount  int                      // 收窄到试用代理后的最小数量 (默认5)
	ReloadInterval time.Duration            // 周期性全量重载间隔
	ScoreWindow    time.Duration            // least_used打分使用的统计窗口
	Static         []models.Proxy           // 静态配置列表
	API            APISourceConfig          // 远程代理列表API
}

// withDefaults 填充配置默认值
func (c Config) withDefaults() Config {
	if c.MaxFailCount <= 0 {
		c.MaxFailCount = 3
	}
	if c.MinTrialCount <= 0 {
		c.MinTrialCount = 5
	}
	if c.Strategy == "" {
		c.Strategy = models.StrategyRoundRobin
	}
	if c.ScoreWindow <= 0 {
		c.ScoreWindow = time.Hour
	}
	if len(c.Sources) == 0 {
		c.Sources = []string{"mixed"}
	}
	return c
}

// Pool 代理池
// 职责: 聚合多来源候选代理、按策略轮换、剔除失效节点
// 所有共享状态由内部互斥锁保护
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	proxies  []*models.Proxy
	rrIndex  int
	rnd      *rand.Rand
	feedback FeedbackSource
	trials   TrialProxySource
}

// New 创建代理池
// feedback与trials均允许为nil (对应策略/来源自动退化)
func New(cfg Config, feedback FeedbackSource, trials TrialProxySource) *Pool {
	return &Pool{
		cfg:      cfg.withDefaults(),
		proxies:  make([]*models.Proxy, 0),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		feedback: feedback,
		trials:   trials,
	}
}

// Load 从全部启用来源重新填充候选集
// 单个来源失败只记录告警并跳过,绝不中断整体加载
func (p *Pool) Load(ctx context.Context) error {
	loaded := p.collect(ctx, p.cfg.Sources)

	p.mu.Lock()
	p.proxies = loaded
	p.rrIndex = 0
	total := len(p.proxies)
	p.mu.Unlock()

	utils.Infof("✅ 代理池加载完成,可用代理数: %d", total)
	if total == 0 {
		utils.Warn("代理池为空,后续抓取将直接失败")
	}
	return nil
}

// collect 按来源列表收集代理并按host:port去重
func (p *Pool) collect(ctx context.Context, sources []string) []*models.Proxy {
	cfg := p.cfg
	candidates := make([]models.Proxy, 0)

	if cfg.sourceEnabledIn(sources, "static") {
		candidates = append(candidates, p.loadStatic()...)
	}
	if cfg.sourceEnabledIn(sources, "api") {
		apiProxies, err := p.loadAPI(ctx)
		if err != nil {
			utils.Warnf("远程代理API加载失败,跳过该来源: %v", err)
		} else {
			candidates = append(candidates, apiProxies...)
		}
	}
	if cfg.sourceEnabledIn(sources, "trial") {
		candidates = append(candidates, p.loadTrial()...)
	}

	seen := make(map[string]bool, len(candidates))
	result := make([]*models.Proxy, 0, len(candidates))
	for i := range candidates {
		proxy := candidates[i]
		if err := proxy.Validate(); err != nil {
			utils.Warnf("跳过无效代理 [%s]: %v", proxy.Key(), err)
			continue
		}
		if seen[proxy.Key()] {
			continue
		}
		seen[proxy.Key()] = true
		result = append(result, &proxy)
	}
	return result
}

// sourceEnabledIn 在指定来源列表中判断
func (c Config) sourceEnabledIn(sources []string, name string) bool {
	for _, s := range sources {
		if s == "mixed" || s == name {
			return true
		}
	}
	return false
}

// StartReloadLoop 启动周期性全量重载,ctx取消时退出
func (p *Pool) StartReloadLoop(ctx context.Context) {
	if p.cfg.ReloadInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.cfg.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Debug().Msg("代理池周期性重载")
				_ = p.Load(ctx)
			}
		}
	}()
}

// Next 按配置策略返回一个代理
// 池为空时返回ErrNoProxyAvailable
func (p *Pool) Next() (*models.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil, ErrNoProxyAvailable
	}

	var chosen *models.Proxy
	switch p.cfg.Strategy {
	case models.StrategyRandom:
		chosen = p.proxies[p.rnd.Intn(len(p.proxies))]
	case models.StrategyLeastUsed:
		chosen = p.pickByScoreLocked()
	default: // round_robin
		chosen = p.proxies[p.rrIndex%len(p.proxies)]
		p.rrIndex = (p.rrIndex + 1) % len(p.proxies)
	}

	chosen.LastUsedAt = time.Now()
	return chosen, nil
}

// pickByScoreLocked 按 成功率×平均耗时倒数 打分取最高
// 无历史数据的代理按中性分参与,保证新代理有机会被选中
func (p *Pool) pickByScoreLocked() *models.Proxy {
	best := p.proxies[0]
	bestScore := -1.0
	for _, proxy := range p.proxies {
		score := p.scoreOf(proxy)
		if score > bestScore {
			bestScore = score
			best = proxy
		}
	}
	return best
}

// scoreOf 计算单个代理的表现得分
func (p *Pool) scoreOf(proxy *models.Proxy) float64 {
	const (
		neutralRate    = 1.0
		neutralLatency = 1000.0
	)
	if p.feedback == nil {
		return neutralRate / neutralLatency
	}
	agg := p.feedback.ProxyAggregate(proxy.Key(), p.cfg.ScoreWindow)
	if agg.UsageCount == 0 {
		return neutralRate / neutralLatency
	}
	latency := agg.AvgLatencyMs
	if latency <= 0 {
		latency = 1
	}
	return agg.SuccessRate / latency
}

// ReportSuccess 上报代理使用成功,连续失败计数清零
func (p *Pool) ReportSuccess(proxy *models.Proxy) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, candidate := range p.proxies {
		if candidate.Key() == proxy.Key() {
			candidate.FailCount = 0
			return
		}
	}
}

// ReportFailure 上报代理使用失败
// 连续失败达到阈值后立即剔除,直到下次Load才可能重新出现
func (p *Pool) ReportFailure(proxy *models.Proxy) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, candidate := range p.proxies {
		if candidate.Key() != proxy.Key() {
			continue
		}
		candidate.FailCount++
		if candidate.FailCount >= p.cfg.MaxFailCount {
			p.proxies = append(p.proxies[:i], p.proxies[i+1:]...)
			if p.rrIndex > i {
				p.rrIndex--
			}
			if len(p.proxies) > 0 {
				p.rrIndex %= len(p.proxies)
			} else {
				p.rrIndex = 0
			}
			log.Warn().Msgf("代理 [%s] 连续失败%d次,已剔除,剩余: %d", candidate.Key(), candidate.FailCount, len(p.proxies))
		}
		return
	}
}

// PrioritizeTrialProxies 将活动集收窄到仅试用来源的代理
// 若剩余数量低于最小阈值,回退为重载全部来源,保证池不会静默清空
func (p *Pool) PrioritizeTrialProxies(ctx context.Context) {
	p.mu.Lock()
	trialOnly := make([]*models.Proxy, 0)
	for _, proxy := range p.proxies {
		if proxy.Source == models.SourceTrial {
			trialOnly = append(trialOnly, proxy)
		}
	}
	if len(trialOnly) >= p.cfg.MinTrialCount {
		p.proxies = trialOnly
		p.rrIndex = 0
		p.mu.Unlock()
		utils.Infof("代理池已收窄到试用代理,数量: %d", len(trialOnly))
		return
	}
	p.mu.Unlock()

	utils.Warnf("试用代理不足 (%d < %d),回退为加载全部来源", len(trialOnly), p.cfg.MinTrialCount)
	_ = p.Load(ctx)
}

// Size 当前可用代理数量
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Snapshot 返回池内代理的副本,用于运维展示
func (p *Pool) Snapshot() []models.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := make([]models.Proxy, 0, len(p.proxies))
	for _, proxy := range p.proxies {
		snapshot = append(snapshot, *proxy)
	}
	return snapshot
}

// String 描述池状态
func (p *Pool) String() string {
	return fmt.Sprintf("ProxyPool{size=%d, strategy=%s}", p.Size(), p.cfg.Strategy)
}
