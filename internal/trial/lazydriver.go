package trial

import (
	"context"
	"sync"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
)

// LazyBrowserDriver 按需起浏览器的注册驱动
// 抓取主流程不需要注册时,完全不会付出浏览器会话的成本
type LazyBrowserDriver struct {
	identity models.BrowserIdentity
	opts     browser.Options

	mu      sync.Mutex
	session *browser.Session
	inner   *BrowserDriver
}

// NewLazyBrowserDriver 创建按需注册驱动
func NewLazyBrowserDriver(identity models.BrowserIdentity, opts browser.Options) *LazyBrowserDriver {
	return &LazyBrowserDriver{identity: identity, opts: opts}
}

// ensure 首次使用时启动会话
func (d *LazyBrowserDriver) ensure(ctx context.Context) (*BrowserDriver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inner != nil {
		return d.inner, nil
	}
	session, err := browser.Open(ctx, d.identity, nil, d.opts)
	if err != nil {
		return nil, err
	}
	d.session = session
	d.inner = NewBrowserDriver(session)
	return d.inner, nil
}

// SignUp 提交注册表单
func (d *LazyBrowserDriver) SignUp(ctx context.Context, spec ProviderSpec, email, password string) error {
	inner, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	return inner.SignUp(ctx, spec, email, password)
}

// ConfirmEmail 访问邮件确认链接
func (d *LazyBrowserDriver) ConfirmEmail(ctx context.Context, link string) error {
	inner, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	return inner.ConfirmEmail(ctx, link)
}

// HarvestDashboard 从面板收集API密钥与代理列表
func (d *LazyBrowserDriver) HarvestDashboard(ctx context.Context, spec ProviderSpec) (models.ScrapedField, []models.Proxy, error) {
	inner, err := d.ensure(ctx)
	if err != nil {
		return models.ScrapedField{}, nil, err
	}
	return inner.HarvestDashboard(ctx, spec)
}

// Close 关闭底层会话(未启动过时为空操作)
func (d *LazyBrowserDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Close()
		d.session = nil
		d.inner = nil
	}
}
