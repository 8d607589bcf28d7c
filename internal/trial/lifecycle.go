package trial

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// AccountStore 账号持久化依赖
type AccountStore interface {
	SaveAccounts(accounts []models.TrialAccount) error
	LoadAccounts() ([]models.TrialAccount, error)
}

// MailboxAPI 临时邮箱依赖
type MailboxAPI interface {
	Allocate(ctx context.Context, provider MailboxProvider, password string) (*Mailbox, error)
	PollForSender(ctx context.Context, mailbox *Mailbox, senderDomain string, budget, interval time.Duration) (string, error)
}

// LifecycleConfig 生命周期管理配置
type LifecycleConfig struct {
	Catalog         []ProviderSpec  // 服务商目录,为空时用内置目录
	MailboxProvider MailboxProvider // 邮箱服务商,为空时mailtm
	ConfirmBudget   time.Duration   // 等待确认邮件的预算 (默认3分钟)
	ConfirmInterval time.Duration   // 邮箱轮询间隔 (默认5秒)
	ProbeTimeout    time.Duration   // 代理连通性探测超时 (默认10秒)
}

// withDefaults 填充默认值
func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if len(c.Catalog) == 0 {
		c.Catalog = DefaultCatalog()
	}
	if c.MailboxProvider == "" {
		c.MailboxProvider = MailboxMailTM
	}
	if c.ConfirmBudget <= 0 {
		c.ConfirmBudget = 3 * time.Minute
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// Lifecycle 试用账号生命周期管理
// 账号列表是进程级共享状态,所有读写走互斥锁
type Lifecycle struct {
	mu       sync.Mutex
	accounts []models.TrialAccount

	cfg     LifecycleConfig
	store   AccountStore
	mailbox MailboxAPI
	driver  SignupDriver

	httpClient *http.Client
	// probe 代理连通性探测,测试中可替换
	probe func(proxy models.Proxy, timeout time.Duration) bool

	rnd *rand.Rand
	now func() time.Time
}

// NewLifecycle 创建生命周期管理器并加载已持久化的账号
func NewLifecycle(cfg LifecycleConfig, store AccountStore, mailbox MailboxAPI, driver SignupDriver) (*Lifecycle, error) {
	cfg = cfg.withDefaults()
	lc := &Lifecycle{
		cfg:        cfg,
		store:      store,
		mailbox:    mailbox,
		driver:     driver,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		probe:      tcpProbe,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}

	if store != nil {
		accounts, err := store.LoadAccounts()
		if err != nil {
			return nil, fmt.Errorf("加载试用账号失败: %w", err)
		}
		lc.accounts = accounts
		utils.Infof("已加载 %d 个历史试用账号", len(accounts))
	}
	return lc, nil
}

// tcpProbe 默认连通性探测: 直接TCP拨号
func tcpProbe(proxy models.Proxy, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", proxy.Key(), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// GetValidAccount 返回最久未使用的未过期账号
// 没有可用账号时触发一次创建;创建失败返回nil
func (lc *Lifecycle) GetValidAccount(ctx context.Context) *models.TrialAccount {
	lc.mu.Lock()
	now := lc.now()
	var pick *models.TrialAccount
	for i := range lc.accounts {
		account := &lc.accounts[i]
		if account.Expired(now) {
			continue
		}
		if pick == nil || account.LastUsedAt.Before(pick.LastUsedAt) {
			pick = account
		}
	}
	if pick != nil {
		pick.Touch(now)
		copied := *pick
		lc.persistLocked()
		lc.mu.Unlock()
		utils.Debugf("复用试用账号: %s (%s)", copied.ID, copied.Provider)
		return &copied
	}
	lc.mu.Unlock()

	utils.Info("没有可用试用账号,触发自动创建")
	return lc.CreateAccount(ctx)
}

// CreateAccount 完整的自动注册流程
// 任何不可恢复失败都返回nil,绝不向上抛错误或panic
func (lc *Lifecycle) CreateAccount(ctx context.Context) (account *models.TrialAccount) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("创建试用账号panic: %v", r)
			account = nil
		}
	}()

	if lc.mailbox == nil || lc.driver == nil {
		utils.Warn("账号创建依赖未接入,跳过")
		return nil
	}

	spec := lc.cfg.Catalog[lc.rnd.Intn(len(lc.cfg.Catalog))]
	utils.Infof("🚀 开始创建试用账号: 服务商=%s", spec.Name)

	password := randomPassword()
	mailbox, err := lc.mailbox.Allocate(ctx, lc.cfg.MailboxProvider, password)
	if err != nil {
		utils.Errorf("分配临时邮箱失败: %v", err)
		return nil
	}

	if err := lc.driver.SignUp(ctx, spec, mailbox.Address, password); err != nil {
		utils.Errorf("注册流程失败 [%s]: %v", spec.Name, err)
		return nil
	}

	confirmed := false
	if spec.NeedsConfirm {
		link, err := lc.mailbox.PollForSender(ctx, mailbox, spec.ConfirmSender, lc.cfg.ConfirmBudget, lc.cfg.ConfirmInterval)
		if err != nil {
			// 确认邮件没等到,不产出半成品账号
			utils.Warnf("等待确认邮件失败 [%s]: %v", spec.Name, err)
			return nil
		}
		if err := lc.driver.ConfirmEmail(ctx, link); err != nil {
			utils.Warnf("访问确认链接失败 [%s]: %v", spec.Name, err)
			return nil
		}
		confirmed = true
	}

	apiKey, proxies, err := lc.driver.HarvestDashboard(ctx, spec)
	if err != nil {
		utils.Errorf("抓取控制台失败 [%s]: %v", spec.Name, err)
		return nil
	}

	now := lc.now()
	created := models.TrialAccount{
		ID:         models.NewID(),
		Provider:   spec.Name,
		Email:      mailbox.Address,
		Password:   password,
		CreatedAt:  now,
		ExpiresAt:  now.Add(spec.TrialDuration),
		LastUsedAt: now,
		APIKey:     apiKey,
		Proxies:    proxies,
		Confirmed:  confirmed || !spec.NeedsConfirm,
	}

	lc.mu.Lock()
	lc.accounts = append(lc.accounts, created)
	lc.persistLocked()
	lc.mu.Unlock()

	utils.Infof("✅ 试用账号创建完成: %s, 代理数=%d, 过期时间=%s",
		utils.NewRedactor().RedactEmail(created.Email), len(proxies), created.ExpiresAt.Format(time.RFC3339))
	return &created
}

// ValidateExisting 对所有账号做活性校验
// 过期的直接判无效;其余按有无API密钥选择API校验或连通性探测
// 无效账号从内存与持久化中剔除,返回 (有效数, 剔除数)
func (lc *Lifecycle) ValidateExisting(ctx context.Context) (valid, pruned int) {
	lc.mu.Lock()
	snapshot := append([]models.TrialAccount(nil), lc.accounts...)
	lc.mu.Unlock()

	now := lc.now()
	kept := make([]models.TrialAccount, 0, len(snapshot))
	for _, account := range snapshot {
		if account.Expired(now) {
			utils.Debugf("账号已过期,剔除: %s (%s)", account.ID, account.Provider)
			pruned++
			continue
		}
		if lc.liveCheck(ctx, account) {
			kept = append(kept, account)
			valid++
		} else {
			utils.Warnf("账号活性校验失败,剔除: %s (%s)", account.ID, account.Provider)
			pruned++
		}
	}

	lc.mu.Lock()
	lc.accounts = kept
	lc.persistLocked()
	lc.mu.Unlock()

	utils.Infof("账号校验完成: 有效=%d, 剔除=%d", valid, pruned)
	return valid, pruned
}

// liveCheck 单账号活性校验
// 有API密钥走服务商接口,没有则对第一个代理做连通性探测
func (lc *Lifecycle) liveCheck(ctx context.Context, account models.TrialAccount) bool {
	spec, ok := lc.specFor(account.Provider)
	if ok && account.APIKey.OK() && spec.APICheckURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.APICheckURL, nil)
		if err != nil {
			return false
		}
		req.Header.Set("Authorization", "Bearer "+account.APIKey.Value)
		resp, err := lc.httpClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}

	// 无API密钥: 直接探测代理端口
	for _, proxy := range account.Proxies {
		if lc.probe(proxy, lc.cfg.ProbeTimeout) {
			return true
		}
	}
	return false
}

// specFor 按名称查服务商目录
func (lc *Lifecycle) specFor(name string) (ProviderSpec, bool) {
	for _, spec := range lc.cfg.Catalog {
		if spec.Name == name {
			return spec, true
		}
	}
	return ProviderSpec{}, false
}

// CleanupExpired 清理过期账号,幂等,返回清理数量
func (lc *Lifecycle) CleanupExpired() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := lc.now()
	kept := lc.accounts[:0]
	removed := 0
	for _, account := range lc.accounts {
		if account.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, account)
	}
	lc.accounts = kept
	if removed > 0 {
		lc.persistLocked()
		utils.Infof("已清理 %d 个过期试用账号", removed)
	}
	return removed
}

// ActiveTrialProxies 所有未过期账号提取到的代理端点
// 供代理池的trial来源调用
func (lc *Lifecycle) ActiveTrialProxies() []models.Proxy {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := lc.now()
	var proxies []models.Proxy
	for _, account := range lc.accounts {
		if account.Expired(now) {
			continue
		}
		proxies = append(proxies, account.Proxies...)
	}
	return proxies
}

// Summaries 对外的账号摘要列表,凭据只给存在性标志
func (lc *Lifecycle) Summaries() []models.AccountSummary {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := lc.now()
	summaries := make([]models.AccountSummary, 0, len(lc.accounts))
	for _, account := range lc.accounts {
		summaries = append(summaries, models.AccountSummary{
			ID:          account.ID,
			Provider:    account.Provider,
			Email:       utils.NewRedactor().RedactEmail(account.Email),
			CreatedAt:   account.CreatedAt,
			ExpiresAt:   account.ExpiresAt,
			Expired:     account.Expired(now),
			HasAPIKey:   account.APIKey.OK(),
			HasPassword: account.Password != "",
			ProxyCount:  len(account.Proxies),
		})
	}
	return summaries
}

// Count 当前账号数量
func (lc *Lifecycle) Count() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.accounts)
}

// persistLocked 持久化当前账号列表 (调用方持锁)
func (lc *Lifecycle) persistLocked() {
	if lc.store == nil {
		return
	}
	if err := lc.store.SaveAccounts(lc.accounts); err != nil {
		utils.Errorf("持久化试用账号失败: %v", err)
	}
}
