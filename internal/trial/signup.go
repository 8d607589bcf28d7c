package trial

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ProviderSpec 一个代理服务商的试用注册流程定义
// 封闭目录: 新服务商在这里登记,流程字段齐全才能被抽中
type ProviderSpec struct {
	Name          string        // 服务商标识
	SignupURL     string        // 注册页地址
	DashboardURL  string        // 注册后的控制台地址
	TrialDuration time.Duration // 试用时长

	NeedsConfirm  bool   // 是否需要邮件确认
	ConfirmSender string // 确认邮件的发件域

	EmailSelector    string // 邮箱输入框
	PasswordSelector string // 密码输入框
	SubmitSelector   string // 提交按钮

	APIKeySelector    string // 控制台上的API密钥元素
	ProxyListSelector string // 控制台上的代理列表元素 (每行 host:port 或 host:port:user:pass)
	ProxyProtocol     models.ProxyProtocol

	APICheckURL string // 活性校验接口,带Bearer密钥GET,2xx即有效
}

// DefaultCatalog 内置服务商目录
func DefaultCatalog() []ProviderSpec {
	return []ProviderSpec{
		{
			Name:              "webshare",
			SignupURL:         "https://dashboard.webshare.io/register",
			DashboardURL:      "https://dashboard.webshare.io/proxy/list",
			TrialDuration:     10 * 24 * time.Hour,
			NeedsConfirm:      false,
			ConfirmSender:     "webshare.io",
			EmailSelector:     `input[name="email"]`,
			PasswordSelector:  `input[name="password"]`,
			SubmitSelector:    `button[type="submit"]`,
			APIKeySelector:    `[data-testid="api-key"]`,
			ProxyListSelector: `.proxy-list-row`,
			ProxyProtocol:     models.ProtocolHTTP,
			APICheckURL:       "https://proxy.webshare.io/api/v2/profile/",
		},
		{
			Name:              "proxyrack",
			SignupURL:         "https://www.proxyrack.com/free-trial/",
			DashboardURL:      "https://dashboard.proxyrack.com/",
			TrialDuration:     7 * 24 * time.Hour,
			NeedsConfirm:      true,
			ConfirmSender:     "proxyrack.com",
			EmailSelector:     `input[type="email"]`,
			PasswordSelector:  `input[type="password"]`,
			SubmitSelector:    `button[type="submit"]`,
			APIKeySelector:    `.api-key-value`,
			ProxyListSelector: `.endpoint-row`,
			ProxyProtocol:     models.ProtocolHTTP,
		},
		{
			Name:              "iproyal",
			SignupURL:         "https://dashboard.iproyal.com/register",
			DashboardURL:      "https://dashboard.iproyal.com/",
			TrialDuration:     24 * time.Hour,
			NeedsConfirm:      true,
			ConfirmSender:     "iproyal.com",
			EmailSelector:     `input[name="email"]`,
			PasswordSelector:  `input[name="password"]`,
			SubmitSelector:    `button[type="submit"]`,
			APIKeySelector:    `.token-display`,
			ProxyListSelector: `.proxy-row`,
			ProxyProtocol:     models.ProtocolSOCKS5,
		},
	}
}

// SignupDriver 注册流程对浏览器的依赖
// 测试中用假驱动替代真实浏览器
type SignupDriver interface {
	SignUp(ctx context.Context, spec ProviderSpec, email, password string) error
	ConfirmEmail(ctx context.Context, link string) error
	HarvestDashboard(ctx context.Context, spec ProviderSpec) (models.ScrapedField, []models.Proxy, error)
}

// BrowserDriver 基于真实浏览器会话的注册驱动
type BrowserDriver struct {
	session *browser.Session
	rnd     *rand.Rand
}

// NewBrowserDriver 创建浏览器注册驱动
func NewBrowserDriver(session *browser.Session) *BrowserDriver {
	return &BrowserDriver{
		session: session,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SignUp 打开注册页,拟人输入邮箱密码并提交
func (d *BrowserDriver) SignUp(ctx context.Context, spec ProviderSpec, email, password string) error {
	page, err := d.session.NewPage()
	if err != nil {
		return err
	}
	defer func() { _ = page.Close() }()

	if err := d.session.Navigate(page, spec.SignupURL); err != nil {
		return err
	}

	// 先逛一会,再填表
	if err := d.session.SimulateHumanBehavior(page, browser.IntensityLow); err != nil {
		utils.Debugf("注册前行为模拟失败,忽略: %v", err)
	}

	if err := d.typeInto(page, spec.EmailSelector, email); err != nil {
		return fmt.Errorf("填写邮箱失败: %w", err)
	}
	if err := d.typeInto(page, spec.PasswordSelector, password); err != nil {
		return fmt.Errorf("填写密码失败: %w", err)
	}

	submit, err := page.Element(spec.SubmitSelector)
	if err != nil {
		return fmt.Errorf("定位提交按钮失败: %w", err)
	}
	if err := submit.Hover(); err == nil {
		time.Sleep(time.Duration(300+d.rnd.Intn(500)) * time.Millisecond)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("点击提交失败: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("提交后等待加载失败: %w", err)
	}

	utils.Infof("📧 注册表单已提交: 服务商=%s, 邮箱=%s", spec.Name, utils.NewRedactor().RedactEmail(email))
	return nil
}

// typeInto 点击输入框后逐字符输入,字符间隔随机 (80-240ms)
func (d *BrowserDriver) typeInto(page *rod.Page, selector, text string) error {
	element, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("定位输入框 [%s] 失败: %w", selector, err)
	}
	if err := element.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("聚焦输入框 [%s] 失败: %w", selector, err)
	}

	for _, ch := range text {
		if err := page.InsertText(string(ch)); err != nil {
			return fmt.Errorf("输入字符失败: %w", err)
		}
		time.Sleep(time.Duration(80+d.rnd.Intn(160)) * time.Millisecond)
	}
	return nil
}

// ConfirmEmail 打开确认链接
func (d *BrowserDriver) ConfirmEmail(ctx context.Context, link string) error {
	page, err := d.session.NewPage()
	if err != nil {
		return err
	}
	defer func() { _ = page.Close() }()

	if err := d.session.Navigate(page, link); err != nil {
		return fmt.Errorf("打开确认链接失败: %w", err)
	}
	utils.Info("✅ 邮件确认链接已访问")
	return nil
}

// HarvestDashboard 打开控制台,抓取API密钥与代理端点
// 单个字段抓取失败不终止整个流程: 字段缺失与抓取失败分别标记
func (d *BrowserDriver) HarvestDashboard(ctx context.Context, spec ProviderSpec) (models.ScrapedField, []models.Proxy, error) {
	page, err := d.session.NewPage()
	if err != nil {
		return models.FieldError(err), nil, err
	}
	defer func() { _ = page.Close() }()

	if err := d.session.Navigate(page, spec.DashboardURL); err != nil {
		return models.FieldError(err), nil, err
	}

	apiKey := d.scrapeText(page, spec.APIKeySelector)

	var proxies []models.Proxy
	if spec.ProxyListSelector != "" {
		elements, err := page.Elements(spec.ProxyListSelector)
		if err == nil {
			for _, element := range elements {
				text, err := element.Text()
				if err != nil {
					continue
				}
				if proxy, ok := parseProxyLine(text, spec); ok {
					proxies = append(proxies, proxy)
				}
			}
		}
	}

	utils.Infof("📥 控制台抓取完成: 服务商=%s, API密钥=%v, 代理数=%d", spec.Name, apiKey.OK(), len(proxies))
	return apiKey, proxies, nil
}

// scrapeText 抓取单个元素的文本,区分"元素不存在"与"抓取失败"
func (d *BrowserDriver) scrapeText(page *rod.Page, selector string) models.ScrapedField {
	if selector == "" {
		return models.FieldMissing()
	}
	has, element, err := page.Has(selector)
	if err != nil {
		return models.FieldError(err)
	}
	if !has {
		return models.FieldMissing()
	}
	text, err := element.Text()
	if err != nil {
		return models.FieldError(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.FieldMissing()
	}
	return models.FieldValue(text)
}

// parseProxyLine 解析控制台上的一行代理
// 接受 host:port 与 host:port:user:pass 两种格式
func parseProxyLine(line string, spec ProviderSpec) (models.Proxy, bool) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	if len(parts) != 2 && len(parts) != 4 {
		return models.Proxy{}, false
	}

	port := 0
	if _, err := fmt.Sscanf(parts[1], "%d", &port); err != nil {
		return models.Proxy{}, false
	}

	proxy := models.Proxy{
		Host:     parts[0],
		Port:     port,
		Protocol: spec.ProxyProtocol,
		Source:   models.SourceTrial,
		Provider: spec.Name,
	}
	if len(parts) == 4 {
		proxy.Username = parts[2]
		proxy.Password = parts[3]
	}
	if proxy.Validate() != nil {
		return models.Proxy{}, false
	}
	return proxy, true
}

// randomLocalPart 生成随机邮箱前缀
func randomLocalPart() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteByte(letters[rnd.Intn(len(letters))])
	}
	return fmt.Sprintf("%s%03d", b.String(), rnd.Intn(1000))
}

// randomPassword 生成随机密码 (大小写+数字+符号,16位)
func randomPassword() string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!#%+"
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, 16)
	for i := range b {
		b[i] = chars[rnd.Intn(len(chars))]
	}
	return string(b)
}
