package browser

import (
	"strings"
)

// BlockVerdict 页面封锁判定结果
type BlockVerdict struct {
	Blocked      bool   // 是否被封锁
	IsCaptcha    bool   // 是否为验证码拦截
	IsCloudflare bool   // 是否为Cloudflare挑战页
	Signal       string // 命中的特征,用于日志
}

// cloudflareSignals Cloudflare挑战页特征 (小写匹配)
var cloudflareSignals = []string{
	"checking your browser before accessing",
	"just a moment",
	"cf-browser-verification",
	"cf_chl_opt",
	"cf-challenge",
	"attention required! | cloudflare",
	"ddos protection by cloudflare",
}

// captchaSignals 验证码拦截特征 (小写匹配)
var captchaSignals = []string{
	"g-recaptcha",
	"recaptcha/api.js",
	"h-captcha",
	"hcaptcha.com/1/api.js",
	"cf-turnstile",
	"challenges.cloudflare.com/turnstile",
	"geetest",
	"funcaptcha",
	"arkoselabs",
	"press & hold",
	"verify you are human",
	"confirm you are a human",
}

// blockSignals 一般性封锁/限流特征 (小写匹配)
var blockSignals = []string{
	"access denied",
	"access to this page has been denied",
	"403 forbidden",
	"you have been blocked",
	"unusual traffic from your computer network",
	"too many requests",
	"rate limited",
	"your ip has been banned",
	"pardon our interruption",
}

// ClassifyHTML 根据页面内容判定封锁状态 (纯函数,便于测试)
// Cloudflare挑战页单独标记,即使它同时包含验证码组件
func ClassifyHTML(html string) BlockVerdict {
	lower := strings.ToLower(html)

	for _, signal := range cloudflareSignals {
		if strings.Contains(lower, signal) {
			return BlockVerdict{Blocked: true, IsCloudflare: true, Signal: signal}
		}
	}
	for _, signal := range captchaSignals {
		if strings.Contains(lower, signal) {
			return BlockVerdict{Blocked: true, IsCaptcha: true, Signal: signal}
		}
	}
	for _, signal := range blockSignals {
		if strings.Contains(lower, signal) {
			return BlockVerdict{Blocked: true, Signal: signal}
		}
	}
	return BlockVerdict{}
}
