package trial

import (
	"context"
	"testing"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
)

// fakeStore 内存账号存储
type fakeStore struct {
	accounts []models.TrialAccount
	saves    int
}

func (s *fakeStore) SaveAccounts(accounts []models.TrialAccount) error {
	s.accounts = append([]models.TrialAccount(nil), accounts...)
	s.saves++
	return nil
}

func (s *fakeStore) LoadAccounts() ([]models.TrialAccount, error) {
	return append([]models.TrialAccount(nil), s.accounts...), nil
}

// fakeMailbox 可编程邮箱
type fakeMailbox struct {
	confirmLink string
	pollErr     error
}

func (m *fakeMailbox) Allocate(_ context.Context, provider MailboxProvider, _ string) (*Mailbox, error) {
	return &Mailbox{Provider: provider, Address: "tester@mail.example", ID: "mb-1"}, nil
}

func (m *fakeMailbox) PollForSender(_ context.Context, _ *Mailbox, _ string, _, _ time.Duration) (string, error) {
	if m.pollErr != nil {
		return "", m.pollErr
	}
	return m.confirmLink, nil
}

// fakeDriver 可编程注册驱动
type fakeDriver struct {
	signups   int
	confirms  int
	harvests  int
	apiKey    models.ScrapedField
	proxies   []models.Proxy
	signupErr error
}

func (d *fakeDriver) SignUp(_ context.Context, _ ProviderSpec, _, _ string) error {
	d.signups++
	return d.signupErr
}

func (d *fakeDriver) ConfirmEmail(_ context.Context, _ string) error {
	d.confirms++
	return nil
}

func (d *fakeDriver) HarvestDashboard(_ context.Context, spec ProviderSpec) (models.ScrapedField, []models.Proxy, error) {
	d.harvests++
	return d.apiKey, d.proxies, nil
}

func testCatalog(needsConfirm bool) []ProviderSpec {
	return []ProviderSpec{{
		Name:          "testprov",
		SignupURL:     "https://testprov.example/register",
		DashboardURL:  "https://testprov.example/dashboard",
		TrialDuration: 24 * time.Hour,
		NeedsConfirm:  needsConfirm,
		ConfirmSender: "testprov.example",
		ProxyProtocol: models.ProtocolHTTP,
	}}
}

func mkAccount(id string, lastUsed time.Time, expiresAt time.Time) models.TrialAccount {
	return models.TrialAccount{
		ID:         id,
		Provider:   "testprov",
		Email:      id + "@mail.example",
		Password:   "pw",
		CreatedAt:  lastUsed.Add(-time.Hour),
		ExpiresAt:  expiresAt,
		LastUsedAt: lastUsed,
	}
}

func TestGetValidAccount_NeverReturnsExpired(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{accounts: []models.TrialAccount{
		// 过期账号是最久未使用的,依然不能被选中
		mkAccount("expired-lru", now.Add(-72*time.Hour), now.Add(-time.Hour)),
		mkAccount("fresh", now.Add(-time.Hour), now.Add(24*time.Hour)),
	}}

	lc, err := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	if err != nil {
		t.Fatal(err)
	}
	lc.now = func() time.Time { return now }

	account := lc.GetValidAccount(context.Background())
	if account == nil {
		t.Fatal("GetValidAccount返回nil")
	}
	if account.ID != "fresh" {
		t.Errorf("选中账号 = %s, want fresh (过期账号绝不返回)", account.ID)
	}
}

func TestGetValidAccount_PicksLeastRecentlyUsed(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{accounts: []models.TrialAccount{
		mkAccount("recent", now.Add(-time.Hour), now.Add(24*time.Hour)),
		mkAccount("oldest", now.Add(-48*time.Hour), now.Add(24*time.Hour)),
		mkAccount("middle", now.Add(-10*time.Hour), now.Add(24*time.Hour)),
	}}

	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	lc.now = func() time.Time { return now }

	account := lc.GetValidAccount(context.Background())
	if account == nil || account.ID != "oldest" {
		t.Fatalf("选中账号 = %v, want oldest", account)
	}
	// 选中后刷新最后使用时间
	if !account.LastUsedAt.Equal(now) {
		t.Errorf("LastUsedAt = %v, want %v", account.LastUsedAt, now)
	}
}

func TestGetValidAccount_CreatesWhenEmpty(t *testing.T) {
	driver := &fakeDriver{apiKey: models.FieldValue("key-1")}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, &fakeStore{}, &fakeMailbox{}, driver)

	account := lc.GetValidAccount(context.Background())
	if account == nil {
		t.Fatal("空账号列表时应触发创建")
	}
	if driver.signups != 1 {
		t.Errorf("注册调用次数 = %d, want 1", driver.signups)
	}
}

func TestCreateAccount_ConfirmationTimeoutReturnsNone(t *testing.T) {
	// 注册成功但确认邮件永远不来: 返回nil,不落半成品账号
	driver := &fakeDriver{}
	store := &fakeStore{}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(true)}, store,
		&fakeMailbox{pollErr: ErrNoConfirmation}, driver)

	account := lc.CreateAccount(context.Background())
	if account != nil {
		t.Fatalf("确认超时应返回nil,实际 = %+v", account)
	}
	if driver.signups != 1 {
		t.Errorf("注册调用次数 = %d, want 1", driver.signups)
	}
	if driver.harvests != 0 {
		t.Errorf("确认失败后不应抓取控制台, 调用 = %d", driver.harvests)
	}
	if lc.Count() != 0 {
		t.Errorf("账号数 = %d, want 0", lc.Count())
	}
	if len(store.accounts) != 0 {
		t.Errorf("持久化了半成品账号: %+v", store.accounts)
	}
}

func TestCreateAccount_SignupFailureReturnsNone(t *testing.T) {
	driver := &fakeDriver{signupErr: context.DeadlineExceeded}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, &fakeStore{}, &fakeMailbox{}, driver)

	if account := lc.CreateAccount(context.Background()); account != nil {
		t.Errorf("注册失败应返回nil,实际 = %+v", account)
	}
}

func TestCreateAccount_WithConfirmation(t *testing.T) {
	driver := &fakeDriver{
		apiKey:  models.FieldValue("key-abc"),
		proxies: []models.Proxy{{Host: "1.2.3.4", Port: 8080, Protocol: models.ProtocolHTTP, Source: models.SourceTrial}},
	}
	store := &fakeStore{}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(true)}, store,
		&fakeMailbox{confirmLink: "https://testprov.example/confirm?t=1"}, driver)

	account := lc.CreateAccount(context.Background())
	if account == nil {
		t.Fatal("CreateAccount返回nil")
	}
	if !account.Confirmed {
		t.Error("确认完成后Confirmed应为true")
	}
	if driver.confirms != 1 {
		t.Errorf("确认链接访问次数 = %d, want 1", driver.confirms)
	}
	if len(account.Proxies) != 1 {
		t.Errorf("代理数 = %d, want 1", len(account.Proxies))
	}
	if len(store.accounts) != 1 {
		t.Errorf("持久化账号数 = %d, want 1", len(store.accounts))
	}
}

func TestCleanupExpired_Idempotent(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{accounts: []models.TrialAccount{
		mkAccount("dead-1", now.Add(-72*time.Hour), now.Add(-time.Hour)),
		mkAccount("dead-2", now.Add(-72*time.Hour), now.Add(-2*time.Hour)),
		mkAccount("alive", now.Add(-time.Hour), now.Add(24*time.Hour)),
	}}

	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	lc.now = func() time.Time { return now }

	if removed := lc.CleanupExpired(); removed != 2 {
		t.Errorf("首次清理数 = %d, want 2", removed)
	}
	// 幂等: 再次清理无变化
	if removed := lc.CleanupExpired(); removed != 0 {
		t.Errorf("重复清理数 = %d, want 0", removed)
	}
	if lc.Count() != 1 {
		t.Errorf("剩余账号数 = %d, want 1", lc.Count())
	}
}

func TestValidateExisting_PrunesByProbe(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	good := mkAccount("good", now.Add(-time.Hour), now.Add(24*time.Hour))
	good.Proxies = []models.Proxy{{Host: "alive.example.com", Port: 8080, Protocol: models.ProtocolHTTP}}
	bad := mkAccount("bad", now.Add(-time.Hour), now.Add(24*time.Hour))
	bad.Proxies = []models.Proxy{{Host: "dead.example.com", Port: 8080, Protocol: models.ProtocolHTTP}}
	expired := mkAccount("expired", now.Add(-72*time.Hour), now.Add(-time.Hour))

	store := &fakeStore{accounts: []models.TrialAccount{good, bad, expired}}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	lc.now = func() time.Time { return now }
	lc.probe = func(proxy models.Proxy, _ time.Duration) bool {
		return proxy.Host == "alive.example.com"
	}

	valid, pruned := lc.ValidateExisting(context.Background())
	if valid != 1 || pruned != 2 {
		t.Errorf("valid=%d pruned=%d, want 1/2", valid, pruned)
	}
	if lc.Count() != 1 {
		t.Errorf("剩余账号数 = %d, want 1", lc.Count())
	}
}

func TestActiveTrialProxies_ExcludesExpired(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	alive := mkAccount("alive", now.Add(-time.Hour), now.Add(24*time.Hour))
	alive.Proxies = []models.Proxy{{Host: "p1.example.com", Port: 8080, Protocol: models.ProtocolHTTP}}
	dead := mkAccount("dead", now.Add(-72*time.Hour), now.Add(-time.Hour))
	dead.Proxies = []models.Proxy{{Host: "p2.example.com", Port: 8080, Protocol: models.ProtocolHTTP}}

	store := &fakeStore{accounts: []models.TrialAccount{alive, dead}}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	lc.now = func() time.Time { return now }

	proxies := lc.ActiveTrialProxies()
	if len(proxies) != 1 || proxies[0].Host != "p1.example.com" {
		t.Errorf("试用代理 = %+v, want 仅p1", proxies)
	}
}

func TestSummaries_NeverEchoCredentials(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	account := mkAccount("acc", now.Add(-time.Hour), now.Add(24*time.Hour))
	account.APIKey = models.FieldValue("super-secret-key")
	account.Proxies = []models.Proxy{{Host: "p.example.com", Port: 1080, Protocol: models.ProtocolSOCKS5, Password: "proxypass"}}

	store := &fakeStore{accounts: []models.TrialAccount{account}}
	lc, _ := NewLifecycle(LifecycleConfig{Catalog: testCatalog(false)}, store, &fakeMailbox{}, &fakeDriver{})
	lc.now = func() time.Time { return now }

	summaries := lc.Summaries()
	if len(summaries) != 1 {
		t.Fatalf("摘要数 = %d, want 1", len(summaries))
	}
	summary := summaries[0]
	if !summary.HasAPIKey || !summary.HasPassword {
		t.Error("摘要应标记凭据存在")
	}
	if summary.ProxyCount != 1 {
		t.Errorf("ProxyCount = %d, want 1", summary.ProxyCount)
	}
	if summary.Email == account.Email {
		t.Error("摘要中的邮箱应已脱敏")
	}
}
