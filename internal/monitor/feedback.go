package monitor

import (
	"sync"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// Persister 监控记录的持久化出口
// 由外部存储协作方实现,允许为nil (仅内存模式)
type Persister interface {
	AppendRecord(record models.MonitoringRecord) error
}

// Feedback 监控反馈中心
// 职责: 记录每次抓取的结果,向其他组件提供滑动窗口内的聚合统计
type Feedback struct {
	mu        sync.RWMutex
	records   []models.MonitoringRecord
	persister Persister
	retention time.Duration
}

// New 创建监控反馈中心
// retention为内存保留时长,超出的记录在写入时被裁剪
func New(persister Persister, retention time.Duration) *Feedback {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Feedback{
		records:   make([]models.MonitoringRecord, 0),
		persister: persister,
		retention: retention,
	}
}

// Warm 用历史记录预热内存窗口 (启动时从存储加载)
func (f *Feedback) Warm(records []models.MonitoringRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	f.pruneLocked(time.Now())
	utils.Debugf("监控窗口预热完成,当前记录数: %d", len(f.records))
}

// Record 追加一条观测记录
func (f *Feedback) Record(platform string, success bool, latencyMs int64, proxyKey string) {
	f.RecordWithMeta(platform, success, latencyMs, proxyKey, nil)
}

// RecordWithMeta 追加一条带自由元数据的观测记录
func (f *Feedback) RecordWithMeta(platform string, success bool, latencyMs int64, proxyKey string, metadata map[string]string) {
	record := models.MonitoringRecord{
		ID:        models.NewID(),
		Platform:  platform,
		Success:   success,
		LatencyMs: latencyMs,
		ProxyKey:  proxyKey,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	f.mu.Lock()
	f.records = append(f.records, record)
	f.pruneLocked(record.Timestamp)
	f.mu.Unlock()

	if f.persister != nil {
		if err := f.persister.AppendRecord(record); err != nil {
			utils.Warnf("持久化监控记录失败: %v", err)
		}
	}
}

// pruneLocked 裁剪超出保留时长的记录,调用方必须持有写锁
func (f *Feedback) pruneLocked(now time.Time) {
	cutoff := now.Add(-f.retention)
	idx := 0
	for idx < len(f.records) && f.records[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		f.records = append(f.records[:0:0], f.records[idx:]...)
	}
}

// Rollup 计算window窗口内按平台与按代理的聚合统计
// 空窗口返回零值聚合,绝不产生除零
func (f *Feedback) Rollup(window time.Duration) models.Rollup {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	result := models.Rollup{
		Window:    window,
		Platforms: make(map[string]models.Aggregate),
		Proxies:   make(map[string]models.Aggregate),
	}

	type bucket struct {
		success int
		total   int
		latency int64
	}
	platforms := make(map[string]*bucket)
	proxies := make(map[string]*bucket)
	var overall bucket

	for _, r := range f.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		add := func(b *bucket) {
			b.total++
			b.latency += r.LatencyMs
			if r.Success {
				b.success++
			}
		}
		if platforms[r.Platform] == nil {
			platforms[r.Platform] = &bucket{}
		}
		add(platforms[r.Platform])
		if r.ProxyKey != "" {
			if proxies[r.ProxyKey] == nil {
				proxies[r.ProxyKey] = &bucket{}
			}
			add(proxies[r.ProxyKey])
		}
		add(&overall)
	}

	toAgg := func(b *bucket) models.Aggregate {
		if b == nil || b.total == 0 {
			return models.Aggregate{}
		}
		return models.Aggregate{
			SuccessRate:  float64(b.success) / float64(b.total),
			AvgLatencyMs: float64(b.latency) / float64(b.total),
			UsageCount:   b.total,
		}
	}

	for name, b := range platforms {
		result.Platforms[name] = toAgg(b)
	}
	for key, b := range proxies {
		result.Proxies[key] = toAgg(b)
	}
	result.Total = toAgg(&overall)

	return result
}

// ProxyAggregate 返回单个代理在窗口内的聚合,无记录时返回零值
func (f *Feedback) ProxyAggregate(proxyKey string, window time.Duration) models.Aggregate {
	rollup := f.Rollup(window)
	return rollup.Proxies[proxyKey]
}
