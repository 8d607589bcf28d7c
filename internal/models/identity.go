package models

import "fmt"

// BrowserIdentity 浏览器指纹身份 (配置数据,不持久化)
// 每个会话从固定目录中选择一个,分散指纹特征
type BrowserIdentity struct {
	Name           string `json:"name" mapstructure:"name"`                       // 身份名称
	UserAgent      string `json:"user_agent" mapstructure:"user_agent"`           // User-Agent
	ViewportWidth  int    `json:"viewport_width" mapstructure:"viewport_width"`   // 视口宽度
	ViewportHeight int    `json:"viewport_height" mapstructure:"viewport_height"` // 视口高度
	Locale         string `json:"locale" mapstructure:"locale"`                   // 区域设置
	Timezone       string `json:"timezone" mapstructure:"timezone"`               // 时区ID
	AcceptLanguage string `json:"accept_language" mapstructure:"accept_language"` // Accept-Language头
	Platform       string `json:"platform" mapstructure:"platform"`               // navigator.platform
}

// Validate 验证身份配置
func (b *BrowserIdentity) Validate() error {
	if b.UserAgent == "" {
		return fmt.Errorf("身份 [%s] 缺少User-Agent", b.Name)
	}
	if b.ViewportWidth < 320 || b.ViewportWidth > 7680 {
		return fmt.Errorf("身份 [%s] 视口宽度无效: %d", b.Name, b.ViewportWidth)
	}
	if b.ViewportHeight < 240 || b.ViewportHeight > 4320 {
		return fmt.Errorf("身份 [%s] 视口高度无效: %d", b.Name, b.ViewportHeight)
	}
	if b.Locale == "" || b.Timezone == "" {
		return fmt.Errorf("身份 [%s] 缺少locale或timezone", b.Name)
	}
	return nil
}
