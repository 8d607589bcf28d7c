package models

import "time"

// MonitoringRecord 单次抓取尝试的观测记录 (只追加,从不修改)
type MonitoringRecord struct {
	ID        string            `json:"id"`                  // 记录ID (UUID)
	Platform  string            `json:"platform"`            // 目标平台
	Success   bool              `json:"success"`             // 是否成功
	LatencyMs int64             `json:"latency_ms"`          // 耗时(毫秒)
	ProxyKey  string            `json:"proxy_key,omitempty"` // 代理标识 host:port (可选)
	Timestamp time.Time         `json:"timestamp"`           // 记录时间
	Metadata  map[string]string `json:"metadata,omitempty"`  // 自由元数据
}

// Aggregate 时间窗口内的聚合统计
type Aggregate struct {
	SuccessRate  float64 `json:"success_rate"`   // 成功率 (0.0-1.0)
	AvgLatencyMs float64 `json:"avg_latency_ms"` // 平均耗时(毫秒)
	UsageCount   int     `json:"usage_count"`    // 使用次数
}

// Rollup 一次聚合的完整结果
type Rollup struct {
	Window    time.Duration        `json:"window"`    // 聚合窗口
	Platforms map[string]Aggregate `json:"platforms"` // 按平台聚合
	Proxies   map[string]Aggregate `json:"proxies"`   // 按代理聚合
	Total     Aggregate            `json:"total"`     // 全量聚合
}
