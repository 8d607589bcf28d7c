package protection

import (
	"fmt"
	"sort"
	"sync"
)

// providerRecord 单个服务商的滚动战绩
type providerRecord struct {
	Successes int
	Failures  int
}

// Tracker 防护解决统计
// 服务商战绩驱动后续的服务商排序,聚合计数用于运行报告
type Tracker struct {
	mu        sync.Mutex
	providers map[ProviderName]*providerRecord

	detected map[ChallengeType]int
	solved   int
	failed   int
}

// NewTracker 创建统计器
func NewTracker() *Tracker {
	return &Tracker{
		providers: make(map[ProviderName]*providerRecord),
		detected:  make(map[ChallengeType]int),
	}
}

// RecordProviderResult 记录一次服务商打码结果
func (t *Tracker) RecordProviderResult(name ProviderName, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.providers[name]
	if !ok {
		record = &providerRecord{}
		t.providers[name] = record
	}
	if success {
		record.Successes++
	} else {
		record.Failures++
	}
}

// ProviderSuccessRate 服务商滚动成功率
// 没有历史记录的服务商返回1.0,让新服务商有机会被优先尝试
func (t *Tracker) ProviderSuccessRate(name ProviderName) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.providers[name]
	if !ok {
		return 1.0
	}
	total := record.Successes + record.Failures
	if total == 0 {
		return 1.0
	}
	return float64(record.Successes) / float64(total)
}

// RecordDetected 记录一次挑战检出
func (t *Tracker) RecordDetected(challenge ChallengeType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detected[challenge]++
}

// RecordSolved 记录一次挑战解决成功
func (t *Tracker) RecordSolved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solved++
}

// RecordFailed 记录一次挑战解决失败
func (t *Tracker) RecordFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

// Counters 聚合计数快照
type Counters struct {
	Detected map[ChallengeType]int
	Solved   int
	Failed   int
}

// Snapshot 返回聚合计数快照
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()

	detected := make(map[ChallengeType]int, len(t.detected))
	for challenge, count := range t.detected {
		detected[challenge] = count
	}
	return Counters{Detected: detected, Solved: t.solved, Failed: t.failed}
}

// String 统计摘要
func (t *Tracker) String() string {
	snapshot := t.Snapshot()
	total := 0
	for _, count := range snapshot.Detected {
		total += count
	}
	return fmt.Sprintf("检出=%d 解决=%d 失败=%d", total, snapshot.Solved, snapshot.Failed)
}

// PrioritizedServices 返回按优先级排序的活跃服务商
// 优先级数字小者在前,优先级相同时按滚动成功率降序
func (t *Tracker) PrioritizedServices(configs []ProviderConfig) []ProviderConfig {
	active := make([]ProviderConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Active {
			active = append(active, cfg)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return t.ProviderSuccessRate(active[i].Name) > t.ProviderSuccessRate(active[j].Name)
	})
	return active
}
