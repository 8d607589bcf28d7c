package protection

import (
	"strings"
)

// ChallengeType 防护挑战类型
type ChallengeType string

const (
	ChallengeTurnstile         ChallengeType = "turnstile"          // Cloudflare Turnstile独立组件
	ChallengeCloudflareJS      ChallengeType = "cloudflare_js"      // Cloudflare JS计算挑战
	ChallengeCloudflareCaptcha ChallengeType = "cloudflare_captcha" // Cloudflare托管挑战(带验证码)
	ChallengeCloudflareUnknown ChallengeType = "cloudflare_unknown" // Cloudflare挑战,子类型无法判断
	ChallengeHCaptcha          ChallengeType = "hcaptcha"           // hCaptcha
	ChallengeRecaptchaV2       ChallengeType = "recaptcha_v2"       // reCAPTCHA v2 (勾选/图片)
	ChallengeRecaptchaV3       ChallengeType = "recaptcha_v3"       // reCAPTCHA v3 (隐形评分)
	ChallengeImageCaptcha      ChallengeType = "image_captcha"      // 站点自建图片验证码
	ChallengeUnknown           ChallengeType = "unknown"            // 未识别的防护
)

// cloudflarePageMarkers Cloudflare挑战页整体特征
var cloudflarePageMarkers = []string{
	"just a moment",
	"checking your browser before accessing",
	"cf_chl_opt",
	"cf-browser-verification",
	"cf-challenge",
	"ddos protection by cloudflare",
	"cloudflare ray id",
	"ray id:",
}

// turnstileMarkers Turnstile组件特征
var turnstileMarkers = []string{
	"cf-turnstile",
	"challenges.cloudflare.com/turnstile",
	"turnstile/v0/api.js",
}

// hcaptchaMarkers hCaptcha组件特征
var hcaptchaMarkers = []string{
	"h-captcha",
	"hcaptcha.com/1/api.js",
	"js.hcaptcha.com",
}

// recaptchaV3Markers reCAPTCHA v3特征 (render参数/execute调用)
var recaptchaV3Markers = []string{
	"recaptcha/api.js?render=",
	"grecaptcha.execute",
	"recaptcha/enterprise.js?render=",
}

// recaptchaV2Markers reCAPTCHA v2特征
var recaptchaV2Markers = []string{
	"g-recaptcha",
	"recaptcha/api2/anchor",
	"google.com/recaptcha/api.js",
}

// imageCaptchaMarkers 站点自建图片验证码特征
var imageCaptchaMarkers = []string{
	"captcha.jpg",
	"captcha.png",
	"/captcha?",
	"name=\"captcha\"",
	"id=\"captcha-image\"",
}

// genericChallengeMarkers 其余防护特征,仅用于detect
var genericChallengeMarkers = []string{
	"verify you are human",
	"confirm you are a human",
	"press & hold",
	"are you a robot",
	"unusual traffic from your computer network",
	"pardon our interruption",
	"access to this page has been denied",
}

// containsAny 小写包含匹配
func containsAny(lower string, markers []string) (string, bool) {
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return marker, true
		}
	}
	return "", false
}

// Detect 判断页面是否存在防护挑战
// 返回false意味着整个解决流程以Cleared直接结束
func Detect(html, pageURL string) bool {
	lower := strings.ToLower(html)
	lowerURL := strings.ToLower(pageURL)

	if _, ok := containsAny(lower, cloudflarePageMarkers); ok {
		return true
	}
	if _, ok := containsAny(lower, turnstileMarkers); ok {
		return true
	}
	if _, ok := containsAny(lower, hcaptchaMarkers); ok {
		return true
	}
	if _, ok := containsAny(lower, recaptchaV3Markers); ok {
		return true
	}
	if _, ok := containsAny(lower, recaptchaV2Markers); ok {
		return true
	}
	if _, ok := containsAny(lower, imageCaptchaMarkers); ok {
		return true
	}
	if _, ok := containsAny(lower, genericChallengeMarkers); ok {
		return true
	}
	// URL上的挑战标记 (重定向到挑战页时查询串会带上)
	if strings.Contains(lowerURL, "__cf_chl") || strings.Contains(lowerURL, "/captcha") {
		return true
	}
	return false
}

// Classify 在检测为正的前提下判定挑战类型
// Cloudflare整页挑战优先于独立组件: 同一页面出现两者时按Cloudflare挑战处理
func Classify(html, pageURL string) ChallengeType {
	lower := strings.ToLower(html)

	if _, isCloudflare := containsAny(lower, cloudflarePageMarkers); isCloudflare {
		if _, hasWidget := containsAny(lower, turnstileMarkers); hasWidget {
			return ChallengeCloudflareCaptcha
		}
		if strings.Contains(lower, "jschl") || strings.Contains(lower, "cf_chl_jschl") {
			return ChallengeCloudflareJS
		}
		return ChallengeCloudflareUnknown
	}

	if _, ok := containsAny(lower, turnstileMarkers); ok {
		return ChallengeTurnstile
	}
	if _, ok := containsAny(lower, hcaptchaMarkers); ok {
		return ChallengeHCaptcha
	}
	if _, ok := containsAny(lower, recaptchaV3Markers); ok {
		return ChallengeRecaptchaV3
	}
	if _, ok := containsAny(lower, recaptchaV2Markers); ok {
		return ChallengeRecaptchaV2
	}
	if _, ok := containsAny(lower, imageCaptchaMarkers); ok {
		return ChallengeImageCaptcha
	}
	return ChallengeUnknown
}

// NeedsSolver 是否走外部打码服务路径
func (c ChallengeType) NeedsSolver() bool {
	switch c {
	case ChallengeTurnstile, ChallengeCloudflareCaptcha, ChallengeHCaptcha,
		ChallengeRecaptchaV2, ChallengeRecaptchaV3:
		return true
	}
	return false
}

// NeedsPassiveWait 是否走被动等待路径
func (c ChallengeType) NeedsPassiveWait() bool {
	return c == ChallengeCloudflareJS || c == ChallengeCloudflareUnknown
}
