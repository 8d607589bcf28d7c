package protection

import (
	"fmt"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/go-rod/rod"
)

// RodPage 把rod页面适配为解决流程需要的ChallengePage
type RodPage struct {
	session *browser.Session
	page    *rod.Page
}

// NewRodPage 创建页面适配器
func NewRodPage(session *browser.Session, page *rod.Page) *RodPage {
	return &RodPage{session: session, page: page}
}

// HTML 当前页面内容
func (p *RodPage) HTML() (string, error) {
	return p.page.HTML()
}

// URL 当前页面地址
func (p *RodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Reload 重载页面并等待加载完成
func (p *RodPage) Reload() error {
	if err := p.page.Reload(); err != nil {
		return fmt.Errorf("重载页面失败: %w", err)
	}
	return p.page.WaitLoad()
}

// Screenshot 整页截图
func (p *RodPage) Screenshot() ([]byte, error) {
	return p.session.Screenshot(p.page)
}

// SimulateBehavior 低强度拟人行为
func (p *RodPage) SimulateBehavior() error {
	return p.session.SimulateHumanBehavior(p.page, browser.IntensityLow)
}

// 各挑战类型的token注入脚本
// 把token写入隐藏response字段,并触发组件的完成回调(存在时)
var injectScripts = map[ChallengeType]string{
	ChallengeTurnstile: `(token) => {
        const field = document.querySelector('[name="cf-turnstile-response"]');
        if (field) field.value = token;
        if (window.turnstile && typeof window.tsCallback === 'function') window.tsCallback(token);
        return true;
    }`,
	ChallengeCloudflareCaptcha: `(token) => {
        const field = document.querySelector('[name="cf-turnstile-response"]');
        if (field) field.value = token;
        return true;
    }`,
	ChallengeHCaptcha: `(token) => {
        for (const name of ['h-captcha-response', 'g-recaptcha-response']) {
            const field = document.querySelector('[name="' + name + '"]');
            if (field) field.value = token;
        }
        if (window.hcaptcha && typeof window.hcaptchaCallback === 'function') window.hcaptchaCallback(token);
        return true;
    }`,
	ChallengeRecaptchaV2: `(token) => {
        const field = document.querySelector('[name="g-recaptcha-response"]');
        if (field) {
            field.style.display = 'block';
            field.value = token;
        }
        const widget = document.querySelector('.g-recaptcha');
        const cb = widget && widget.getAttribute('data-callback');
        if (cb && typeof window[cb] === 'function') window[cb](token);
        return true;
    }`,
	ChallengeRecaptchaV3: `(token) => {
        const field = document.querySelector('[name="g-recaptcha-response"]');
        if (field) field.value = token;
        if (window.grecaptcha) {
            window.grecaptcha.execute = () => Promise.resolve(token);
        }
        return true;
    }`,
}

// InjectToken 把打码token写回页面
func (p *RodPage) InjectToken(challenge ChallengeType, token string) error {
	script, ok := injectScripts[challenge]
	if !ok {
		return fmt.Errorf("挑战类型 %s 不支持token注入", challenge)
	}
	if _, err := p.page.Eval(script, token); err != nil {
		return fmt.Errorf("执行注入脚本失败: %w", err)
	}
	return nil
}
