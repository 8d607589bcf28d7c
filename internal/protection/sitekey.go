package protection

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// 各类挑战组件的data-sitekey承载元素
var sitekeySelectors = map[ChallengeType][]string{
	ChallengeTurnstile:         {".cf-turnstile[data-sitekey]", "[data-sitekey]"},
	ChallengeCloudflareCaptcha: {".cf-turnstile[data-sitekey]", "[data-sitekey]"},
	ChallengeHCaptcha:          {".h-captcha[data-sitekey]", "[data-sitekey]"},
	ChallengeRecaptchaV2:       {".g-recaptcha[data-sitekey]", "[data-sitekey]"},
	ChallengeRecaptchaV3:       {"[data-sitekey]"},
}

// 脚本文本中的site key模式 (DOM属性缺失时的回退)
var sitekeyScriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)['"]?sitekey['"]?\s*[:=]\s*['"]([0-9A-Za-z_-]{10,})['"]`),
	regexp.MustCompile(`(?i)render=([0-9A-Za-z_-]{10,})`),
	regexp.MustCompile(`(?i)data-sitekey=["']([0-9A-Za-z_-]{10,})["']`),
}

// ExtractSiteKey 从页面内容提取挑战组件的site key
// 优先读DOM属性,失败后回退到脚本文本与iframe查询参数的模式匹配
func ExtractSiteKey(html string, challenge ChallengeType) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		selectors := sitekeySelectors[challenge]
		if len(selectors) == 0 {
			selectors = []string{"[data-sitekey]"}
		}
		for _, selector := range selectors {
			if key, ok := doc.Find(selector).First().Attr("data-sitekey"); ok && key != "" {
				return key, nil
			}
		}

		// iframe的src里会携带key (reCAPTCHA anchor用k=, hCaptcha用sitekey=)
		var fromIframe string
		doc.Find("iframe[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			src, _ := sel.Attr("src")
			if key := siteKeyFromIframeSrc(src); key != "" {
				fromIframe = key
				return false
			}
			return true
		})
		if fromIframe != "" {
			return fromIframe, nil
		}
	}

	// 最后回退: 整页文本模式匹配
	for _, pattern := range sitekeyScriptPatterns {
		if match := pattern.FindStringSubmatch(html); len(match) > 1 {
			return match[1], nil
		}
	}

	return "", fmt.Errorf("未能提取site key: 挑战类型=%s", challenge)
}

// siteKeyFromIframeSrc 从验证码iframe的src查询参数中提取key
func siteKeyFromIframeSrc(src string) string {
	if src == "" {
		return ""
	}
	parsed, err := url.Parse(src)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	for _, param := range []string{"k", "sitekey", "render"} {
		if value := query.Get(param); len(value) >= 10 {
			return value
		}
	}
	return ""
}
