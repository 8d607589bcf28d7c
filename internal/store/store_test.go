package store

import (
	"testing"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
)

func TestStore_Accounts(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// 空存储加载返回空列表而非错误
	accounts, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error = %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("空存储应返回空列表,得到 %d 个", len(accounts))
	}

	now := time.Now().Truncate(time.Second)
	saved := []models.TrialAccount{
		{ID: "a1", Provider: "webshare", Email: "x@mail.tm", Password: "pw", CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)},
		{ID: "a2", Provider: "proxyline", Email: "y@mail.tm", Password: "pw2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
	if err := s.SaveAccounts(saved); err != nil {
		t.Fatalf("SaveAccounts() error = %v", err)
	}

	loaded, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("加载账号数 = %d, want 2", len(loaded))
	}
	if loaded[0].ID != "a1" || loaded[1].Provider != "proxyline" {
		t.Errorf("账号内容不一致: %+v", loaded)
	}
}

func TestStore_Records(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	old := models.MonitoringRecord{ID: "r1", Platform: "airbnb", Success: true, LatencyMs: 800, Timestamp: now.Add(-2 * time.Hour)}
	fresh := models.MonitoringRecord{ID: "r2", Platform: "booking", Success: false, LatencyMs: 1500, Timestamp: now}

	for _, r := range []models.MonitoringRecord{old, fresh} {
		if err := s.AppendRecord(r); err != nil {
			t.Fatalf("AppendRecord() error = %v", err)
		}
	}

	records, err := s.LoadRecords(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "r2" {
		t.Errorf("时间过滤结果错误: %+v", records)
	}

	all, err := s.LoadRecords(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("全量加载记录数 = %d, want 2", len(all))
	}
}
