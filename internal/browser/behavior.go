package browser

import (
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Intensity 行为模拟强度
type Intensity string

const (
	IntensityLow    Intensity = "low"    // 低强度: 少量动作,快节奏
	IntensityMedium Intensity = "medium" // 中强度: 默认
	IntensityHigh   Intensity = "high"   // 高强度: 接近真人浏览
)

// BehaviorProfile 行为分布参数
// 把散落的随机延迟集中为一个可独立测试的配置对象
type BehaviorProfile struct {
	MinActions int // 动作数下限
	MaxActions int // 动作数上限

	PauseMean   time.Duration // 停顿均值
	PauseStdDev time.Duration // 停顿标准差
	PauseMin    time.Duration // 停顿下限(截断)
	PauseMax    time.Duration // 停顿上限(截断)

	MaxScrollDelta int // 单次滚动最大距离(像素)
	MouseSteps     int // 鼠标轨迹插值步数
}

// ProfileFor 按强度返回行为参数
// 所有强度的动作数都落在3-15范围内
func ProfileFor(intensity Intensity) BehaviorProfile {
	profile := BehaviorProfile{
		PauseMean:      1 * time.Second,
		PauseStdDev:    500 * time.Millisecond,
		PauseMin:       200 * time.Millisecond,
		PauseMax:       3 * time.Second,
		MaxScrollDelta: 600,
		MouseSteps:     20,
	}
	switch intensity {
	case IntensityLow:
		profile.MinActions = 3
		profile.MaxActions = 6
	case IntensityHigh:
		profile.MinActions = 8
		profile.MaxActions = 15
		profile.MouseSteps = 30
	default: // medium
		profile.MinActions = 5
		profile.MaxActions = 10
	}
	return profile
}

// actionKind 模拟动作类型
type actionKind int

const (
	actionScroll actionKind = iota
	actionMousePath
	actionPause
	actionSafeInteract
)

// planActions 生成随机动作序列
func planActions(rnd *rand.Rand, profile BehaviorProfile) []actionKind {
	count := profile.MinActions + rnd.Intn(profile.MaxActions-profile.MinActions+1)
	plan := make([]actionKind, count)
	for i := range plan {
		plan[i] = actionKind(rnd.Intn(4))
	}
	return plan
}

// clippedNormalDelay 从截断正态分布中抽取停顿时长
// 均值/标准差来自profile,结果始终落在[PauseMin, PauseMax]内
func clippedNormalDelay(rnd *rand.Rand, profile BehaviorProfile) time.Duration {
	sample := rnd.NormFloat64()*float64(profile.PauseStdDev) + float64(profile.PauseMean)
	delay := time.Duration(sample)
	if delay < profile.PauseMin {
		return profile.PauseMin
	}
	if delay > profile.PauseMax {
		return profile.PauseMax
	}
	return delay
}

// point 平面坐标
type point struct {
	x, y float64
}

// bezierPath 生成二次贝塞尔曲线轨迹点
// 控制点随机偏移,模拟真人手部的弧线移动
func bezierPath(rnd *rand.Rand, start, end point, steps int) []point {
	if steps < 2 {
		steps = 2
	}
	control := point{
		x: (start.x+end.x)/2 + (rnd.Float64()-0.5)*200,
		y: (start.y+end.y)/2 + (rnd.Float64()-0.5)*200,
	}
	path := make([]point, 0, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		inv := 1 - t
		path = append(path, point{
			x: inv*inv*start.x + 2*inv*t*control.x + t*t*end.x,
			y: inv*inv*start.y + 2*inv*t*control.y + t*t*end.y,
		})
	}
	return path
}

// SafeSelectors 允许自动交互的低风险元素选择器
// 提交按钮与外链绝不在列表内
var SafeSelectors = []string{
	"a[href^='#']",
	"button:not([type='submit'])",
	"[role='button']:not(a)",
	"summary",
	"[class*='accordion']",
	"[class*='tab']:not(input)",
}

// safeToInteract 判断元素是否可以安全交互
// 提交类元素与跨域外链一律拒绝
func safeToInteract(tag, typeAttr, href, pageHost string) bool {
	tag = strings.ToLower(tag)
	typeAttr = strings.ToLower(typeAttr)

	if tag == "input" && (typeAttr == "submit" || typeAttr == "image") {
		return false
	}
	if tag == "button" && typeAttr == "submit" {
		return false
	}
	if tag == "a" && href != "" && !strings.HasPrefix(href, "#") {
		parsed, err := url.Parse(href)
		if err != nil {
			return false
		}
		// 绝对外链禁止点击,站内相对链接同样跳过(避免离开当前页面)
		if parsed.Host != "" && parsed.Host != pageHost {
			return false
		}
		if parsed.Host == "" && parsed.Path != "" {
			return false
		}
	}
	return true
}

// SimulateHumanBehavior 在页面上执行一段随机的拟人行为
// 动作从滚动/曲线移动鼠标/停顿/安全交互中随机抽取,数量与节奏由强度决定
func (s *Session) SimulateHumanBehavior(page *rod.Page, intensity Intensity) error {
	profile := ProfileFor(intensity)
	plan := planActions(s.rnd, profile)
	utils.Debugf("行为模拟开始: 强度=%s, 动作数=%d", intensity, len(plan))

	for _, action := range plan {
		var err error
		switch action {
		case actionScroll:
			err = s.randomScroll(page, profile)
		case actionMousePath:
			err = s.randomMousePath(page, profile)
		case actionPause:
			time.Sleep(clippedNormalDelay(s.rnd, profile))
		case actionSafeInteract:
			err = s.interactSafeElement(page, profile)
		}
		if err != nil {
			return fmt.Errorf("行为模拟动作失败: %w", err)
		}
		// 动作之间的小停顿
		time.Sleep(clippedNormalDelay(s.rnd, profile) / 2)
	}

	return nil
}

// randomScroll 随机方向与距离滚动
func (s *Session) randomScroll(page *rod.Page, profile BehaviorProfile) error {
	delta := float64(s.rnd.Intn(profile.MaxScrollDelta) + 50)
	if s.rnd.Float64() < 0.3 {
		delta = -delta // 偶尔向上回滚
	}
	return page.Mouse.Scroll(0, delta, 4+s.rnd.Intn(6))
}

// randomMousePath 沿贝塞尔曲线移动鼠标,每步附带微小停顿
func (s *Session) randomMousePath(page *rod.Page, profile BehaviorProfile) error {
	width := float64(s.identity.ViewportWidth)
	height := float64(s.identity.ViewportHeight)
	start := point{x: s.rnd.Float64() * width, y: s.rnd.Float64() * height}
	end := point{x: s.rnd.Float64() * width, y: s.rnd.Float64() * height}

	for _, p := range bezierPath(s.rnd, start, end, profile.MouseSteps) {
		if err := page.Mouse.MoveTo(proto.Point{X: math.Round(p.x), Y: math.Round(p.y)}); err != nil {
			return err
		}
		time.Sleep(time.Duration(2+s.rnd.Intn(10)) * time.Millisecond)
	}
	return nil
}

// interactSafeElement 随机挑选一个安全元素进行悬停/点击
// 找不到可见的安全元素时静默跳过,不算失败
func (s *Session) interactSafeElement(page *rod.Page, profile BehaviorProfile) error {
	pageURL := ""
	if info, err := page.Info(); err == nil {
		if parsed, err := url.Parse(info.URL); err == nil {
			pageURL = parsed.Host
		}
	}

	selector := SafeSelectors[s.rnd.Intn(len(SafeSelectors))]
	elements, err := page.Elements(selector)
	if err != nil || len(elements) == 0 {
		return nil
	}

	element := elements[s.rnd.Intn(len(elements))]
	visible, err := element.Visible()
	if err != nil || !visible {
		return nil
	}

	tag := ""
	if desc, err := element.Describe(0, false); err == nil {
		tag = desc.LocalName
	}
	typeAttr := attrOr(element, "type")
	href := attrOr(element, "href")
	if !safeToInteract(tag, typeAttr, href, pageURL) {
		return nil
	}

	if err := element.Hover(); err != nil {
		return nil
	}
	time.Sleep(clippedNormalDelay(s.rnd, profile) / 2)

	// 半数情况只悬停不点击
	if s.rnd.Float64() < 0.5 {
		if err := element.Click(proto.InputMouseButtonLeft, 1); err != nil {
			utils.Debugf("安全元素点击失败,忽略: %v", err)
		}
	}
	return nil
}

// attrOr 读取元素属性,失败或不存在时返回空串
func attrOr(element *rod.Element, name string) string {
	value, err := element.Attribute(name)
	if err != nil || value == nil {
		return ""
	}
	return *value
}
