package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SessionGovernor 会话资源管控器
// 职责: 监控内存与CPU,限制同时存活的浏览器会话数量
// 浏览器进程比普通goroutine重得多,不做管控很容易把宿主机打爆
type SessionGovernor struct {
	config GovernorConfig

	totalMemory  uint64
	lastMemStats runtime.MemStats
	mu           sync.RWMutex

	lastCPUUsage float64
	cpuMu        sync.RWMutex

	active   int // 当前存活会话数
	activeMu sync.Mutex

	cancelFunc context.CancelFunc
	isRunning  bool
}

// GovernorConfig 管控器配置
type GovernorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	SafetyThreshold     int64 // 安全阈值(字节)
	CPULoadThreshold    int   // CPU负载阈值(%),>=200视为禁用检查
	MaxSessionsLimit    int   // 绝对最大会话数
	SessionMemoryUsage  int64 // 单个浏览器会话平均内存消耗(字节)
}

// NewSessionGovernor 创建会话管控器
func NewSessionGovernor(config GovernorConfig) *SessionGovernor {
	if config.SessionMemoryUsage == 0 {
		config.SessionMemoryUsage = 400 * 1024 * 1024 // 一个完整浏览器进程按400MB估算
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = 4
	}

	vmStat, err := mem.VirtualMemory()
	var totalMem uint64
	if err != nil {
		utils.Warnf("获取系统内存失败,使用默认值: %v", err)
		totalMem = 4 * 1024 * 1024 * 1024
	} else {
		totalMem = vmStat.Total
		utils.Infof("系统总内存: %.2f GB", float64(totalMem)/(1024*1024*1024))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &SessionGovernor{
		config:       config,
		totalMemory:  totalMem,
		lastMemStats: memStats,
	}
}

// StartMonitoring 启动后台资源采样 (幂等)
func (g *SessionGovernor) StartMonitoring(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancelFunc = cancel
	g.isRunning = true

	go g.monitoringLoop(ctx, interval)
}

// StopMonitoring 停止后台采样
func (g *SessionGovernor) StopMonitoring() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isRunning && g.cancelFunc != nil {
		g.cancelFunc()
		g.isRunning = false
		g.cancelFunc = nil
	}
}

// monitoringLoop 周期性采样内存与CPU
func (g *SessionGovernor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)

			g.mu.Lock()
			g.lastMemStats = memStats
			g.mu.Unlock()

			cpuUsage := g.sampleCPU()
			g.cpuMu.Lock()
			g.lastCPUUsage = cpuUsage
			g.cpuMu.Unlock()
		}
	}
}

// sampleCPU 采样系统CPU平均使用率 (100毫秒窗口)
func (g *SessionGovernor) sampleCPU() float64 {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		utils.Debugf("获取CPU使用率失败: %v", err)
		return 0.0
	}
	return percentages[0]
}

// CalculateMaxSessions 基于可用内存与CPU核数计算允许的最大会话数
func (g *SessionGovernor) CalculateMaxSessions() int {
	g.mu.RLock()
	memStats := g.lastMemStats
	g.mu.RUnlock()

	availableMemory := int64(g.totalMemory) - int64(memStats.Alloc) - g.config.SafetyReserveMemory

	maxByMemory := 1
	if availableMemory > g.config.SafetyThreshold {
		surplus := availableMemory - g.config.SafetyThreshold
		maxByMemory = int(surplus / g.config.SessionMemoryUsage)
		if maxByMemory < 1 {
			maxByMemory = 1
		}
	}

	result := maxByMemory
	if cpuCount := runtime.NumCPU(); cpuCount < result {
		result = cpuCount
	}
	if g.config.MaxSessionsLimit < result {
		result = g.config.MaxSessionsLimit
	}
	if result < 1 {
		result = 1
	}
	return result
}

// Acquire 申请一个会话名额
// 资源不足或已达上限时返回错误,调用方应稍后重试或排队
func (g *SessionGovernor) Acquire() error {
	if ok, reason := g.checkResources(); !ok {
		return fmt.Errorf("资源不足,拒绝新会话: %s", reason)
	}

	g.activeMu.Lock()
	defer g.activeMu.Unlock()

	limit := g.CalculateMaxSessions()
	if g.active >= limit {
		return fmt.Errorf("会话数已达上限: %d/%d", g.active, limit)
	}
	g.active++
	utils.Debugf("会话名额已分配: %d/%d", g.active, limit)
	return nil
}

// Release 归还会话名额
func (g *SessionGovernor) Release() {
	g.activeMu.Lock()
	defer g.activeMu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// ActiveSessions 当前存活会话数
func (g *SessionGovernor) ActiveSessions() int {
	g.activeMu.Lock()
	defer g.activeMu.Unlock()
	return g.active
}

// checkResources 检查内存与CPU是否允许新建会话
func (g *SessionGovernor) checkResources() (canCreate bool, reason string) {
	g.mu.RLock()
	memStats := g.lastMemStats
	g.mu.RUnlock()

	availableMemory := int64(g.totalMemory) - int64(memStats.Alloc) - g.config.SafetyReserveMemory
	if availableMemory < g.config.SafetyThreshold {
		availableMemoryMB := availableMemory / (1024 * 1024)
		utils.Warnf("可用内存不足(当前%dMB),会话创建受限", availableMemoryMB)
		return false, fmt.Sprintf("内存不足(当前%dMB)", availableMemoryMB)
	}

	if g.config.CPULoadThreshold < 200 {
		g.cpuMu.RLock()
		cpuUsage := g.lastCPUUsage
		g.cpuMu.RUnlock()

		if cpuUsage > float64(g.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", cpuUsage)
		}
	}

	return true, ""
}
