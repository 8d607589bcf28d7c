package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/monitor"
	"github.com/WanderingAshes/TripHarvest/internal/protection"
	"github.com/WanderingAshes/TripHarvest/internal/proxypool"
)

// newTestOrchestrator 组装不触碰真实浏览器的编排器
func newTestOrchestrator(cfg *Config, pool *proxypool.Pool, feedback *monitor.Feedback, governor *browser.SessionGovernor) *Orchestrator {
	resolver := protection.NewResolver(protection.Config{}, nil, nil)
	return NewOrchestrator(cfg, pool, feedback, resolver, governor, nil)
}

func TestOrchestrator_EmptyPoolNeverFetchesDirect(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_, _ = w.Write([]byte(calendarHTML))
	}))
	defer server.Close()

	for _, mode := range []string{"all", "static"} {
		t.Run("模式_"+mode, func(t *testing.T) {
			cfg := &Config{Fetch: FetchConfig{Mode: mode, MaxAttempts: 3, Intensity: "medium"}}
			pool := proxypool.New(proxypool.Config{Sources: []string{"static"}}, nil, nil)
			_ = pool.Load(context.Background())

			governor := browser.NewSessionGovernor(browser.GovernorConfig{CPULoadThreshold: 200, SessionMemoryUsage: 1})
			orch := newTestOrchestrator(cfg, pool, monitor.New(nil, time.Hour), governor)

			result := orch.ResolveAvailability(context.Background(), server.URL, "generic")
			if result.Failure != models.FailNoProxy {
				t.Errorf("失败分类 = %q, want %q", result.Failure, models.FailNoProxy)
			}
			if len(result.Records) != 0 {
				t.Errorf("代理池为空时不应抓到记录, 实际 %d 条", len(result.Records))
			}
			if result.ProxyKey != "" {
				t.Errorf("ProxyKey = %q, 应为空", result.ProxyKey)
			}
		})
	}

	// 代理池耗尽绝不降级为直连
	if got := atomic.LoadInt64(&hits); got != 0 {
		t.Errorf("目标站点被访问了 %d 次, 应为0", got)
	}
}

func TestOrchestrator_GovernorRejectionDoesNotChargeProxy(t *testing.T) {
	cfg := &Config{Fetch: FetchConfig{Mode: "dynamic", MaxAttempts: 2, Intensity: "medium", NavTimeout: time.Second}}

	pool := proxypool.New(proxypool.Config{
		Sources: []string{"static"},
		Static: []models.Proxy{
			{Host: "10.0.0.1", Port: 8080, Protocol: models.ProtocolHTTP},
		},
	}, nil, nil)
	if err := pool.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// 占满会话额度, 后续Acquire必然失败
	governor := browser.NewSessionGovernor(browser.GovernorConfig{CPULoadThreshold: 200, SessionMemoryUsage: 1, MaxSessionsLimit: 1})
	if err := governor.Acquire(); err != nil {
		t.Fatalf("预占会话失败: %v", err)
	}
	defer governor.Release()

	feedback := monitor.New(nil, time.Hour)
	orch := newTestOrchestrator(cfg, pool, feedback, governor)

	result := orch.ResolveAvailability(context.Background(), "https://example.com/rooms/1", "generic")
	if result.Failure != models.FailBlocked {
		t.Errorf("失败分类 = %q, want %q", result.Failure, models.FailBlocked)
	}
	if result.Attempts != 2 {
		t.Errorf("尝试次数 = %d, want 2", result.Attempts)
	}

	// 本机资源不足不能算在代理头上
	if size := pool.Size(); size != 1 {
		t.Fatalf("代理池大小 = %d, 代理不应被驱逐", size)
	}
	for _, proxy := range pool.Snapshot() {
		if proxy.FailCount != 0 {
			t.Errorf("代理 %s FailCount = %d, want 0", proxy.Key(), proxy.FailCount)
		}
	}
	agg := feedback.ProxyAggregate("10.0.0.1:8080", time.Hour)
	if agg.UsageCount != 0 {
		t.Errorf("监控记录了 %d 次代理使用, 应为0", agg.UsageCount)
	}
}
