package browser

import "testing"

func TestSessionGovernor_AcquireRelease(t *testing.T) {
	governor := NewSessionGovernor(GovernorConfig{
		MaxSessionsLimit:   2,
		CPULoadThreshold:   200, // 禁用CPU检查,测试环境负载不可控
		SessionMemoryUsage: 1,   // 内存永远充足
	})

	if err := governor.Acquire(); err != nil {
		t.Fatalf("第1次Acquire失败: %v", err)
	}
	if err := governor.Acquire(); err != nil {
		t.Fatalf("第2次Acquire失败: %v", err)
	}
	if err := governor.Acquire(); err == nil {
		t.Error("超过上限的Acquire应当失败")
	}
	if governor.ActiveSessions() != 2 {
		t.Errorf("存活会话数 = %d, want 2", governor.ActiveSessions())
	}

	governor.Release()
	if err := governor.Acquire(); err != nil {
		t.Errorf("Release后Acquire应当成功: %v", err)
	}
}

func TestSessionGovernor_CalculateMaxSessionsAtLeastOne(t *testing.T) {
	// 安全保留设得极大,可用内存为负,上限仍不低于1
	governor := NewSessionGovernor(GovernorConfig{
		SafetyReserveMemory: 1 << 50,
		SafetyThreshold:     1 << 40,
		MaxSessionsLimit:    8,
	})
	if got := governor.CalculateMaxSessions(); got != 1 {
		t.Errorf("内存耗尽时CalculateMaxSessions() = %d, want 1", got)
	}
}

func TestSessionGovernor_ReleaseNeverNegative(t *testing.T) {
	governor := NewSessionGovernor(GovernorConfig{MaxSessionsLimit: 2})
	governor.Release()
	governor.Release()
	if governor.ActiveSessions() != 0 {
		t.Errorf("空闲时Release后计数 = %d, want 0", governor.ActiveSessions())
	}
}
