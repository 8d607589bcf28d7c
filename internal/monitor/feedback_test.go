package monitor

import (
	"testing"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
)

func TestFeedback_EmptyWindowRollup(t *testing.T) {
	f := New(nil, time.Hour)

	rollup := f.Rollup(10 * time.Minute)

	if rollup.Total.SuccessRate != 0 {
		t.Errorf("空窗口成功率 = %f, want 0", rollup.Total.SuccessRate)
	}
	if rollup.Total.AvgLatencyMs != 0 {
		t.Errorf("空窗口平均耗时 = %f, want 0", rollup.Total.AvgLatencyMs)
	}
	if rollup.Total.UsageCount != 0 {
		t.Errorf("空窗口使用次数 = %d, want 0", rollup.Total.UsageCount)
	}
	if len(rollup.Platforms) != 0 || len(rollup.Proxies) != 0 {
		t.Error("空窗口不应有平台或代理聚合")
	}
}

func TestFeedback_Rollup(t *testing.T) {
	f := New(nil, time.Hour)

	f.Record("airbnb", true, 1000, "1.2.3.4:8080")
	f.Record("airbnb", false, 3000, "1.2.3.4:8080")
	f.Record("booking", true, 500, "5.6.7.8:1080")
	f.Record("booking", true, 700, "")

	rollup := f.Rollup(10 * time.Minute)

	airbnb := rollup.Platforms["airbnb"]
	if airbnb.UsageCount != 2 {
		t.Errorf("airbnb使用次数 = %d, want 2", airbnb.UsageCount)
	}
	if airbnb.SuccessRate != 0.5 {
		t.Errorf("airbnb成功率 = %f, want 0.5", airbnb.SuccessRate)
	}
	if airbnb.AvgLatencyMs != 2000 {
		t.Errorf("airbnb平均耗时 = %f, want 2000", airbnb.AvgLatencyMs)
	}

	proxy := rollup.Proxies["1.2.3.4:8080"]
	if proxy.UsageCount != 2 || proxy.SuccessRate != 0.5 {
		t.Errorf("代理聚合错误: %+v", proxy)
	}

	// 无代理标识的记录不进入代理聚合
	if _, ok := rollup.Proxies[""]; ok {
		t.Error("空代理标识不应出现在代理聚合中")
	}

	if rollup.Total.UsageCount != 4 {
		t.Errorf("全量使用次数 = %d, want 4", rollup.Total.UsageCount)
	}
}

func TestFeedback_WindowFiltering(t *testing.T) {
	f := New(nil, 48*time.Hour)
	f.Warm([]models.MonitoringRecord{
		{ID: "old", Platform: "airbnb", Success: true, LatencyMs: 100, Timestamp: time.Now().Add(-2 * time.Hour)},
	})
	f.Record("airbnb", false, 200, "")

	rollup := f.Rollup(30 * time.Minute)
	if rollup.Total.UsageCount != 1 {
		t.Errorf("窗口过滤后使用次数 = %d, want 1", rollup.Total.UsageCount)
	}
	if rollup.Total.SuccessRate != 0 {
		t.Errorf("窗口内只有失败记录,成功率 = %f, want 0", rollup.Total.SuccessRate)
	}
}

func TestFeedback_RetentionPrune(t *testing.T) {
	f := New(nil, time.Minute)
	f.Warm([]models.MonitoringRecord{
		{ID: "stale", Platform: "airbnb", Success: true, LatencyMs: 100, Timestamp: time.Now().Add(-time.Hour)},
	})
	f.Record("airbnb", true, 100, "")

	f.mu.RLock()
	n := len(f.records)
	f.mu.RUnlock()
	if n != 1 {
		t.Errorf("超龄记录应被裁剪,当前记录数 = %d, want 1", n)
	}
}
