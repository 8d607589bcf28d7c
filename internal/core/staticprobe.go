package core

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/browser"
	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// StaticProbe 静态快速路径
// 不起浏览器,直接用HTTP抓一次页面: 拿得到日历就省下整个浏览器会话,
// 被拦截则把结论交还编排器走动态路径
type StaticProbe struct {
	identities []models.BrowserIdentity
	timeout    time.Duration
	rnd        *rand.Rand
}

// ProbeOutcome 静态探测结论
type ProbeOutcome struct {
	Records []models.DateAvailability // 成功提取的记录
	Blocked bool                      // 被防护拦截,应转浏览器路径
	Err     error                     // 网络/解析失败 (不代表被拦截)
}

// NewStaticProbe 创建静态探测器
func NewStaticProbe(identities []models.BrowserIdentity, timeout time.Duration) *StaticProbe {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &StaticProbe{
		identities: identities,
		timeout:    timeout,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fetch 通过指定代理静态抓取一次
// proxy为nil表示直连
func (sp *StaticProbe) Fetch(targetURL, platform string, proxy *models.Proxy) ProbeOutcome {
	c := colly.NewCollector()
	c.SetClient(&http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				// 部分代理出口做中间人拆包,跳过证书校验
				InsecureSkipVerify: true,
			},
		},
		Timeout: sp.timeout,
	})

	if proxy != nil {
		if err := c.SetProxy(proxy.URL()); err != nil {
			return ProbeOutcome{Err: fmt.Errorf("设置静态探测代理失败: %w", err)}
		}
	}

	identity := sp.pickIdentity()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", identity.UserAgent)
		r.Headers.Set("Accept-Language", identity.AcceptLanguage)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
	})

	var outcome ProbeOutcome
	c.OnResponse(func(r *colly.Response) {
		body, err := decompressBody(r.Body, r.Headers.Get("Content-Encoding"))
		if err != nil {
			outcome = ProbeOutcome{Err: err}
			return
		}
		pageHTML := string(body)

		verdict := browser.ClassifyHTML(pageHTML)
		if verdict.Blocked {
			utils.Debugf("静态探测被拦截: %s (特征=%q)", targetURL, verdict.Signal)
			outcome = ProbeOutcome{Blocked: true}
			return
		}

		records, err := ExtractCalendar(pageHTML, platform)
		if err != nil {
			// 页面正常但没有日历: 多半是内容靠JS渲染,交给浏览器路径
			outcome = ProbeOutcome{Blocked: true}
			return
		}
		outcome = ProbeOutcome{Records: records}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusForbidden || r.StatusCode == http.StatusTooManyRequests) {
			outcome = ProbeOutcome{Blocked: true}
			return
		}
		outcome = ProbeOutcome{Err: fmt.Errorf("静态探测请求失败: %w", err)}
	})

	if err := c.Visit(targetURL); err != nil {
		c.Wait()
		// OnError已把状态码翻译成结论时以其为准
		if outcome.Blocked || outcome.Err != nil {
			return outcome
		}
		return ProbeOutcome{Err: fmt.Errorf("静态探测访问失败: %w", err)}
	}
	c.Wait()
	return outcome
}

// pickIdentity 随机挑一个身份的请求头
func (sp *StaticProbe) pickIdentity() models.BrowserIdentity {
	if len(sp.identities) == 0 {
		return models.BrowserIdentity{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
		}
	}
	return sp.identities[sp.rnd.Intn(len(sp.identities))]
}

// decompressBody 按Content-Encoding解压响应体
func decompressBody(body []byte, contentEncoding string) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
