package protection

import "testing"

func TestTracker_PrioritizedServices_ByPriority(t *testing.T) {
	tracker := NewTracker()
	// 成功率 [0.95, 0.90, 0.50],优先级互不相同
	recordRate(tracker, ProviderAntiCaptcha, 19, 1) // 0.95
	recordRate(tracker, ProviderTwoCaptcha, 9, 1)   // 0.90
	recordRate(tracker, ProviderCapSolver, 1, 1)    // 0.50

	configs := []ProviderConfig{
		{Name: ProviderCapSolver, Priority: 0, Active: true},
		{Name: ProviderTwoCaptcha, Priority: 1, Active: true},
		{Name: ProviderAntiCaptcha, Priority: 2, Active: true},
	}

	ordered := tracker.PrioritizedServices(configs)
	want := []ProviderName{ProviderCapSolver, ProviderTwoCaptcha, ProviderAntiCaptcha}
	assertOrder(t, ordered, want)
}

func TestTracker_PrioritizedServices_TieBrokenBySuccessRate(t *testing.T) {
	tracker := NewTracker()
	recordRate(tracker, ProviderCapSolver, 1, 1)    // 0.50
	recordRate(tracker, ProviderTwoCaptcha, 9, 1)   // 0.90
	recordRate(tracker, ProviderAntiCaptcha, 19, 1) // 0.95

	// 优先级全部相同,成功率降序决定顺序
	configs := []ProviderConfig{
		{Name: ProviderCapSolver, Priority: 1, Active: true},
		{Name: ProviderTwoCaptcha, Priority: 1, Active: true},
		{Name: ProviderAntiCaptcha, Priority: 1, Active: true},
	}

	ordered := tracker.PrioritizedServices(configs)
	want := []ProviderName{ProviderAntiCaptcha, ProviderTwoCaptcha, ProviderCapSolver}
	assertOrder(t, ordered, want)
}

func TestTracker_PrioritizedServices_SkipsInactive(t *testing.T) {
	tracker := NewTracker()
	configs := []ProviderConfig{
		{Name: ProviderCapSolver, Priority: 0, Active: false},
		{Name: ProviderTwoCaptcha, Priority: 1, Active: true},
	}

	ordered := tracker.PrioritizedServices(configs)
	if len(ordered) != 1 || ordered[0].Name != ProviderTwoCaptcha {
		t.Errorf("停用的服务商不应出现在排序结果中: %+v", ordered)
	}
}

func TestTracker_SuccessRateNoHistory(t *testing.T) {
	tracker := NewTracker()
	if rate := tracker.ProviderSuccessRate(ProviderCapSolver); rate != 1.0 {
		t.Errorf("无历史记录的成功率 = %v, want 1.0", rate)
	}
}

func TestTracker_Counters(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordDetected(ChallengeTurnstile)
	tracker.RecordDetected(ChallengeTurnstile)
	tracker.RecordDetected(ChallengeHCaptcha)
	tracker.RecordSolved()
	tracker.RecordFailed()

	snapshot := tracker.Snapshot()
	if snapshot.Detected[ChallengeTurnstile] != 2 {
		t.Errorf("turnstile检出 = %d, want 2", snapshot.Detected[ChallengeTurnstile])
	}
	if snapshot.Solved != 1 || snapshot.Failed != 1 {
		t.Errorf("solved=%d failed=%d, want 1/1", snapshot.Solved, snapshot.Failed)
	}
}

func recordRate(tracker *Tracker, name ProviderName, successes, failures int) {
	for i := 0; i < successes; i++ {
		tracker.RecordProviderResult(name, true)
	}
	for i := 0; i < failures; i++ {
		tracker.RecordProviderResult(name, false)
	}
}

func assertOrder(t *testing.T, got []ProviderConfig, want []ProviderName) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("排序结果长度 = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("位置%d = %s, want %s", i, got[i].Name, want[i])
		}
	}
}
