package models

import (
	"time"
)

// ScrapedField 从提供商面板抓取的单个字段
// 区分"字段不存在"与"抓取失败"两种情况,避免混为一个空字符串
type ScrapedField struct {
	Value   string `json:"value,omitempty"`   // 抓取到的值
	Missing bool   `json:"missing,omitempty"` // 页面上确实没有该字段
	Err     string `json:"error,omitempty"`   // 抓取过程出错(选择器失效、超时等)
}

// OK 字段是否成功取到值
func (f ScrapedField) OK() bool {
	return !f.Missing && f.Err == "" && f.Value != ""
}

// FieldValue 构造成功取值的字段
func FieldValue(v string) ScrapedField { return ScrapedField{Value: v} }

// FieldMissing 构造"页面上不存在"的字段
func FieldMissing() ScrapedField { return ScrapedField{Missing: true} }

// FieldError 构造"抓取失败"的字段
func FieldError(err error) ScrapedField { return ScrapedField{Err: err.Error()} }

// TrialAccount 代理提供商试用账号
// 不变式: 已过期的账号绝不会被复用,并且可以被清理
type TrialAccount struct {
	ID         string       `json:"id"`                // 账号唯一ID (UUID)
	Provider   string       `json:"provider"`          // 提供商名称
	Email      string       `json:"email"`             // 生成的临时邮箱地址
	Password   string       `json:"password"`          // 生成的密码
	CreatedAt  time.Time    `json:"created_at"`        // 创建时间
	ExpiresAt  time.Time    `json:"expires_at"`        // 过期时间(由提供商试用时长推算)
	LastUsedAt time.Time    `json:"last_used_at"`      // 最后使用时间
	APIKey     ScrapedField `json:"api_key"`           // 签发的API密钥(可选)
	Proxies    []Proxy      `json:"proxies,omitempty"` // 提取到的代理端点(可选)
	Confirmed  bool         `json:"confirmed"`         // 邮箱确认是否完成
}

// Expired 账号是否已过期
func (a *TrialAccount) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// Touch 刷新最后使用时间
func (a *TrialAccount) Touch(now time.Time) {
	a.LastUsedAt = now
}

// AccountSummary 对外返回的账号摘要
// 凭据与原始代理列表绝不回显,只提供存在性标志
type AccountSummary struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Expired     bool      `json:"expired"`
	HasAPIKey   bool      `json:"has_api_key"`
	HasPassword bool      `json:"has_password"`
	ProxyCount  int       `json:"proxy_count"`
}
