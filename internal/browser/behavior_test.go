package browser

import (
	"math/rand"
	"testing"
	"time"
)

func TestClippedNormalDelay_Bounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	profile := ProfileFor(IntensityMedium)

	// 大量抽样,延迟必须全部落在[PauseMin, PauseMax]内
	for i := 0; i < 10000; i++ {
		delay := clippedNormalDelay(rnd, profile)
		if delay < profile.PauseMin || delay > profile.PauseMax {
			t.Fatalf("第%d次抽样延迟越界: %v (范围 [%v, %v])", i, delay, profile.PauseMin, profile.PauseMax)
		}
	}
}

func TestClippedNormalDelay_SpreadsAroundMean(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	profile := ProfileFor(IntensityMedium)

	var total time.Duration
	const samples = 5000
	for i := 0; i < samples; i++ {
		total += clippedNormalDelay(rnd, profile)
	}
	avg := total / samples

	// 截断会把均值稍微往中间拉,允许±200ms偏差
	if avg < 800*time.Millisecond || avg > 1200*time.Millisecond {
		t.Errorf("平均延迟 = %v, 期望在1秒附近", avg)
	}
}

func TestPlanActions_CountWithinProfile(t *testing.T) {
	tests := []struct {
		name      string
		intensity Intensity
	}{
		{"低强度", IntensityLow},
		{"中强度", IntensityMedium},
		{"高强度", IntensityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(1))
			profile := ProfileFor(tt.intensity)
			for i := 0; i < 1000; i++ {
				plan := planActions(rnd, profile)
				if len(plan) < profile.MinActions || len(plan) > profile.MaxActions {
					t.Fatalf("动作数 %d 越界 [%d, %d]", len(plan), profile.MinActions, profile.MaxActions)
				}
				// 所有强度都必须落在全局3-15范围内
				if len(plan) < 3 || len(plan) > 15 {
					t.Fatalf("动作数 %d 超出全局范围 [3, 15]", len(plan))
				}
			}
		})
	}
}

func TestBezierPath_Endpoints(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	start := point{x: 100, y: 200}
	end := point{x: 900, y: 600}

	path := bezierPath(rnd, start, end, 25)
	if len(path) != 25 {
		t.Fatalf("轨迹点数 = %d, want 25", len(path))
	}
	if path[0] != start {
		t.Errorf("轨迹起点 = %+v, want %+v", path[0], start)
	}
	last := path[len(path)-1]
	if last.x != end.x || last.y != end.y {
		t.Errorf("轨迹终点 = %+v, want %+v", last, end)
	}
}

func TestSafeToInteract(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		typeAttr string
		href     string
		want     bool
	}{
		{"提交按钮拒绝", "button", "submit", "", false},
		{"提交input拒绝", "input", "submit", "", false},
		{"普通按钮允许", "button", "button", "", true},
		{"锚点链接允许", "a", "", "#section", true},
		{"跨域链接拒绝", "a", "", "https://other.example.org/page", false},
		{"同域绝对链接允许", "a", "", "https://example.com", true},
		{"站内相对链接拒绝", "a", "", "/checkout", false},
		{"summary允许", "summary", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := safeToInteract(tt.tag, tt.typeAttr, tt.href, "example.com")
			if got != tt.want {
				t.Errorf("safeToInteract(%q, %q, %q) = %v, want %v", tt.tag, tt.typeAttr, tt.href, got, tt.want)
			}
		})
	}
}

func TestSafeSelectors_NeverMatchSubmit(t *testing.T) {
	// 选择器列表本身不得包含会命中提交按钮的模式
	for _, selector := range SafeSelectors {
		if selector == "button" || selector == "input" || selector == "a" {
			t.Errorf("选择器过于宽泛: %q", selector)
		}
	}
}
