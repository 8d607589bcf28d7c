package models

import (
	"fmt"
	"net/url"
	"time"
)

// FetchMode 抓取模式
type FetchMode string

const (
	ModeAll     FetchMode = "all"     // 先静态探测,被拦截时转浏览器
	ModeStatic  FetchMode = "static"  // 仅静态探测
	ModeDynamic FetchMode = "dynamic" // 仅浏览器抓取
)

// DateAvailability 单日可用性记录
type DateAvailability struct {
	Date      string  `json:"date"`            // 日期 (YYYY-MM-DD)
	Available bool    `json:"available"`       // 是否可订
	Price     float64 `json:"price,omitempty"` // 价格(可选,0表示未知)
	Currency  string  `json:"currency,omitempty"`
}

// FailureKind 终态失败分类
type FailureKind string

const (
	FailNone               FailureKind = ""                    // 成功
	FailNoProxy            FailureKind = "no_proxy_available"  // 代理池耗尽
	FailProvidersExhausted FailureKind = "providers_exhausted" // 解题服务全部失败
	FailBlocked            FailureKind = "navigation_blocked"  // 多次尝试后仍被拦截
	FailNavigation         FailureKind = "navigation_error"    // 导航/会话错误
	FailExtraction         FailureKind = "extraction_error"    // 页面解析失败
)

// FetchResult 一次可用性抓取的结构化结果
// 调用方只会看到终态结果,绝不会看到底层异常
type FetchResult struct {
	TaskID    string             `json:"task_id"`             // 任务ID (UUID)
	URL       string             `json:"url"`                 // 目标URL
	Platform  string             `json:"platform"`            // 平台标识
	Records   []DateAvailability `json:"records,omitempty"`   // 抓取到的记录
	Failure   FailureKind        `json:"failure,omitempty"`   // 失败分类(成功时为空)
	Message   string             `json:"message,omitempty"`   // 失败说明
	Attempts  int                `json:"attempts"`            // 实际尝试次数
	ProxyKey  string             `json:"proxy_key,omitempty"` // 最终使用的代理
	Duration  float64            `json:"duration"`            // 总耗时(秒)
	FetchedAt time.Time          `json:"fetched_at"`          // 完成时间
}

// OK 是否成功
func (r *FetchResult) OK() bool {
	return r.Failure == FailNone
}

// ValidateURL 验证URL格式,仅接受http/https
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL为空")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URL格式无效: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL协议必须为http或https: %s", rawURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL缺少主机名: %s", rawURL)
	}
	return nil
}
