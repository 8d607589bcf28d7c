package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"golang.org/x/net/html"
)

// platformSelectors 各平台日历单元格选择器
// 未登记的平台使用generic选择器
var platformSelectors = map[string][]string{
	"airbnb":  {`[data-testid="calendar-day"]`, `td[data-date]`},
	"booking": {`.bui-calendar__date`, `td[data-date]`},
	"vrbo":    {`[data-testid="calendar-cell"]`, `td[data-date]`},
	"generic": {`[data-date]`, `[data-day]`},
}

// unavailableHints 单元格不可订的class/属性特征
var unavailableHints = []string{
	"blocked", "unavailable", "disabled", "booked", "sold", "--strike", "no-checkin",
}

var (
	datePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	pricePattern = regexp.MustCompile(`([$€£¥])\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
)

// currencySymbols 货币符号到代码
var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "CNY",
}

// ExtractCalendar 从渲染后的页面内容提取日历可用性记录
// goquery选择器优先,选择器全部落空时退化为通用DOM遍历
func ExtractCalendar(pageHTML, platform string) ([]models.DateAvailability, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("解析页面HTML失败: %w", err)
	}

	selectors, ok := platformSelectors[strings.ToLower(platform)]
	if !ok {
		selectors = platformSelectors["generic"]
	}

	records := make([]models.DateAvailability, 0, 31)
	seen := make(map[string]bool)

	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			record, ok := recordFromSelection(sel)
			if !ok || seen[record.Date] {
				return
			}
			seen[record.Date] = true
			records = append(records, record)
		})
		if len(records) > 0 {
			break
		}
	}

	// 选择器全部落空: 走底层DOM遍历兜底
	if len(records) == 0 {
		records = walkForDates(pageHTML, seen)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("页面中未找到日历数据: 平台=%s", platform)
	}

	utils.Debugf("日历提取完成: 平台=%s, 记录数=%d", platform, len(records))
	return records, nil
}

// recordFromSelection 把一个日历单元格转换为记录
func recordFromSelection(sel *goquery.Selection) (models.DateAvailability, bool) {
	date := attrDate(sel)
	if date == "" {
		return models.DateAvailability{}, false
	}

	record := models.DateAvailability{Date: date, Available: true}

	// class与aria属性上的不可订特征
	class, _ := sel.Attr("class")
	aria, _ := sel.Attr("aria-label")
	blocked, _ := sel.Attr("data-is-day-blocked")
	lower := strings.ToLower(class + " " + aria)
	for _, hint := range unavailableHints {
		if strings.Contains(lower, hint) {
			record.Available = false
			break
		}
	}
	if blocked == "true" {
		record.Available = false
	}

	if price, currency, ok := parsePrice(sel.Text() + " " + aria); ok {
		record.Price = price
		record.Currency = currency
	}
	return record, true
}

// attrDate 从常见属性中取ISO日期
func attrDate(sel *goquery.Selection) string {
	for _, name := range []string{"data-date", "data-day", "data-testid-date", "aria-label"} {
		if value, ok := sel.Attr(name); ok {
			if match := datePattern.FindString(value); match != "" {
				return match
			}
		}
	}
	return ""
}

// parsePrice 从文本中解析价格与货币
func parsePrice(text string) (float64, string, bool) {
	match := pricePattern.FindStringSubmatch(text)
	if len(match) != 3 {
		return 0, "", false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[2], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	return value, currencySymbols[match[1]], true
}

// walkForDates 底层DOM遍历兜底
// 不依赖任何选择器,扫所有元素节点上携带日期的属性
func walkForDates(pageHTML string, seen map[string]bool) []models.DateAvailability {
	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}

	var records []models.DateAvailability
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			var date string
			var classes string
			for _, attr := range node.Attr {
				switch attr.Key {
				case "data-date", "data-day":
					if match := datePattern.FindString(attr.Val); match != "" {
						date = match
					}
				case "class":
					classes = strings.ToLower(attr.Val)
				}
			}
			if date != "" && !seen[date] {
				seen[date] = true
				record := models.DateAvailability{Date: date, Available: true}
				for _, hint := range unavailableHints {
					if strings.Contains(classes, hint) {
						record.Available = false
						break
					}
				}
				records = append(records, record)
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return records
}
