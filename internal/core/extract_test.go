package core

import (
	"testing"
)

func TestExtractCalendar(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		platform  string
		wantCount int
		wantErr   bool
	}{
		{
			name: "airbnb日历单元格",
			html: `<div>
				<div data-testid="calendar-day" data-date="2026-09-01">1</div>
				<div data-testid="calendar-day" data-date="2026-09-02" data-is-day-blocked="true">2</div>
				<div data-testid="calendar-day" data-date="2026-09-03">3</div>
			</div>`,
			platform:  "airbnb",
			wantCount: 3,
		},
		{
			name: "booking带价格",
			html: `<table>
				<td class="bui-calendar__date" data-date="2026-10-05">5 <span>$120</span></td>
				<td class="bui-calendar__date bui-calendar__date--strike" data-date="2026-10-06">6</td>
			</table>`,
			platform:  "booking",
			wantCount: 2,
		},
		{
			name:      "未登记平台走generic选择器",
			html:      `<div data-date="2026-11-11" class="day"></div>`,
			platform:  "someothersite",
			wantCount: 1,
		},
		{
			name:      "选择器落空走DOM遍历兜底",
			html:      `<section><article data-day="2026-12-24" class="cell booked"></article></section>`,
			platform:  "airbnb",
			wantCount: 1,
		},
		{
			name:     "无日历数据报错",
			html:     `<html><body><h1>About us</h1></body></html>`,
			platform: "airbnb",
			wantErr:  true,
		},
		{
			name: "重复日期去重",
			html: `<div data-date="2026-09-01"></div>
				<div data-date="2026-09-01"></div>`,
			platform:  "generic",
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ExtractCalendar(tt.html, tt.platform)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractCalendar() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(records) != tt.wantCount {
				t.Errorf("记录数 = %d, want %d", len(records), tt.wantCount)
			}
		})
	}
}

func TestExtractCalendar_AvailabilityAndPrice(t *testing.T) {
	html := `<div>
		<div data-testid="calendar-day" data-date="2026-09-01" aria-label="Sep 1, $150 per night">1</div>
		<div data-testid="calendar-day" data-date="2026-09-02" class="calendar-day unavailable">2</div>
		<div data-testid="calendar-day" data-date="2026-09-03" data-is-day-blocked="true">3</div>
	</div>`

	records, err := ExtractCalendar(html, "airbnb")
	if err != nil {
		t.Fatalf("ExtractCalendar() error = %v", err)
	}

	byDate := make(map[string]int)
	for i, record := range records {
		byDate[record.Date] = i
	}

	first := records[byDate["2026-09-01"]]
	if !first.Available {
		t.Error("2026-09-01 应为可订")
	}
	if first.Price != 150 || first.Currency != "USD" {
		t.Errorf("价格 = %v %s, want 150 USD", first.Price, first.Currency)
	}

	if records[byDate["2026-09-02"]].Available {
		t.Error("unavailable class 应标记为不可订")
	}
	if records[byDate["2026-09-03"]].Available {
		t.Error("data-is-day-blocked 应标记为不可订")
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantPrice    float64
		wantCurrency string
		wantOK       bool
	}{
		{"美元", "night at $1,250.50", 1250.50, "USD", true},
		{"欧元", "€ 89", 89, "EUR", true},
		{"英镑", "£45.00 per night", 45, "GBP", true},
		{"无价格", "fully booked", 0, "", false},
		{"裸数字不算价格", "room 204", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, currency, ok := parsePrice(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("parsePrice(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if price != tt.wantPrice || currency != tt.wantCurrency {
				t.Errorf("parsePrice(%q) = %v %s, want %v %s", tt.text, price, currency, tt.wantPrice, tt.wantCurrency)
			}
		})
	}
}
