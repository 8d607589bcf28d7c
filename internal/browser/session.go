package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrSessionCrashed 浏览器会话崩溃,调用方应重建会话后重试
var ErrSessionCrashed = errors.New("浏览器会话已崩溃")

// Options 会话选项
type Options struct {
	Headless    bool          // 无头模式
	NavTimeout  time.Duration // 单次导航超时 (默认60秒)
	ExtraWait   time.Duration // 页面加载后的额外等待 (默认3秒)
	SlowMotion  time.Duration // 每个CDP动作之间的延迟,0表示不启用
	UserDataDir string        // 浏览器用户数据目录,为空则使用临时目录
}

// withDefaults 填充默认选项
func (o Options) withDefaults() Options {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 60 * time.Second
	}
	if o.ExtraWait <= 0 {
		o.ExtraWait = 3 * time.Second
	}
	return o
}

// Session 一个浏览器会话: 一个浏览器实例 + 一个固定身份 + 一个可更换的代理
// 代理在Chromium里是进程级参数,更换代理必须重启浏览器进程
type Session struct {
	opts     Options
	identity models.BrowserIdentity
	proxy    *models.Proxy

	launcher *launcher.Launcher
	browser  *rod.Browser
	ctx      context.Context
	cancel   context.CancelFunc

	rnd *rand.Rand
}

// Open 启动浏览器并建立会话
// proxy可以为nil,表示直连
func Open(ctx context.Context, identity models.BrowserIdentity, proxy *models.Proxy, opts Options) (s *Session, err error) {
	// 浏览器启动过程中rod可能panic,统一转换为错误
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("浏览器启动panic: %v", r)
			s = nil
			err = ErrSessionCrashed
		}
	}()

	opts = opts.withDefaults()
	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		opts:     opts,
		identity: identity,
		proxy:    proxy,
		ctx:      sessionCtx,
		cancel:   cancel,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := session.launch(); err != nil {
		cancel()
		return nil, err
	}

	utils.Infof("🌐 浏览器会话已建立: 身份=%s, 代理=%s", identity.Name, session.proxyLabel())
	return session, nil
}

// launch 启动浏览器进程并连接
func (s *Session) launch() error {
	l := launcher.New().Headless(s.opts.Headless)

	// 忽略TLS证书错误,部分代理出口会做中间人拆包
	l = l.Set("ignore-certificate-errors")
	l = l.Set("disable-blink-features", "AutomationControlled")

	if s.opts.UserDataDir != "" {
		l = l.UserDataDir(s.opts.UserDataDir)
	}

	if s.proxy != nil {
		// --proxy-server只携带地址,凭据通过CDP认证回调下发
		l = l.Proxy(s.proxy.ServerAddr())
		utils.Debugf("浏览器代理参数: %s", utils.NewRedactor().RedactProxyURL(s.proxy.URL()))
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if s.opts.SlowMotion > 0 {
		browser = browser.SlowMotion(s.opts.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	if s.proxy != nil && s.proxy.HasAuth() {
		release := browser.HandleAuth(s.proxy.Username, s.proxy.Password)
		go func() { _ = release() }()
	}

	s.launcher = l
	s.browser = browser
	utils.Debugf("浏览器已启动: %s", controlURL)
	return nil
}

// NewPage 创建一个已应用完整身份与隐身注入的页面
func (s *Session) NewPage() (page *rod.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("创建页面panic: %v", r)
			page = nil
			err = ErrSessionCrashed
		}
	}()

	page, err = s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	if err := s.applyIdentity(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	if err := injectStealth(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	s.setupHeaderIntercept(page)

	return page, nil
}

// applyIdentity 把身份目录里的指纹特征写入页面
func (s *Session) applyIdentity(page *rod.Page) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      s.identity.UserAgent,
		AcceptLanguage: s.identity.AcceptLanguage,
		Platform:       s.identity.Platform,
	}); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.identity.ViewportWidth,
		Height:            s.identity.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("设置视口失败: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: s.identity.Timezone}).Call(page); err != nil {
		return fmt.Errorf("设置时区失败: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: s.identity.Locale}).Call(page); err != nil {
		return fmt.Errorf("设置区域失败: %w", err)
	}

	utils.Debugf("页面身份已应用: %s (%dx%d, %s)",
		s.identity.Name, s.identity.ViewportWidth, s.identity.ViewportHeight, s.identity.Timezone)
	return nil
}

// setupHeaderIntercept 拦截所有请求,补齐与身份匹配的请求头
func (s *Session) setupHeaderIntercept(page *rod.Page) {
	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		ctx.Request.Req().Header.Set("Accept-Language", s.identity.AcceptLanguage)
		ctx.Request.Req().Header.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", platformBrand(s.identity.Platform)))

		// 不拦截响应,放行请求
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()
}

// platformBrand Sec-CH-UA平台名,与navigator.platform保持一致
func platformBrand(platform string) string {
	switch platform {
	case "Win32":
		return "Windows"
	case "MacIntel":
		return "macOS"
	default:
		return "Linux"
	}
}

// Navigate 带超时导航并等待加载完成,加载后附加固定等待让动态内容就绪
func (s *Session) Navigate(page *rod.Page, targetURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("导航panic [%s]: %v", targetURL, r)
			err = ErrSessionCrashed
		}
	}()

	timed := page.Timeout(s.opts.NavTimeout)
	if err := timed.Navigate(targetURL); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", targetURL, err)
	}
	if err := timed.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败 [%s]: %w", targetURL, err)
	}

	// 等待动态渲染
	time.Sleep(s.opts.ExtraWait)
	return nil
}

// Screenshot 截取整页截图
func (s *Session) Screenshot(page *rod.Page) ([]byte, error) {
	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("截图失败: %w", err)
	}
	return data, nil
}

// Rotate 更换代理: 关闭当前浏览器进程并用新代理重启
// 身份保持不变,同一会话的指纹前后一致
func (s *Session) Rotate(proxy *models.Proxy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("更换代理panic: %v", r)
			err = ErrSessionCrashed
		}
	}()

	s.closeBrowser()
	s.proxy = proxy

	if err := s.launch(); err != nil {
		return fmt.Errorf("更换代理后重启浏览器失败: %w", err)
	}
	utils.Infof("🔄 会话已切换代理: %s", s.proxyLabel())
	return nil
}

// Identity 当前会话身份
func (s *Session) Identity() models.BrowserIdentity {
	return s.identity
}

// Proxy 当前会话代理,可能为nil
func (s *Session) Proxy() *models.Proxy {
	return s.proxy
}

// Close 关闭会话并回收浏览器进程
func (s *Session) Close() {
	s.closeBrowser()
	s.cancel()
	utils.Debug("浏览器会话已关闭")
}

// closeBrowser 关闭浏览器进程,崩溃中的浏览器关闭失败只记日志
func (s *Session) closeBrowser() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			utils.Debugf("关闭浏览器失败,忽略: %v", err)
		}
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
}

// proxyLabel 日志用代理标签
func (s *Session) proxyLabel() string {
	if s.proxy == nil {
		return "直连"
	}
	return s.proxy.Key()
}
