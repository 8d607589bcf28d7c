package trial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// MailboxProvider 临时邮箱服务商 (封闭集合)
type MailboxProvider string

const (
	MailboxMailTM    MailboxProvider = "mailtm"
	MailboxGuerrilla MailboxProvider = "guerrillamail"
)

// ValidMailboxProvider 检查服务商名称是否在封闭集合内
func ValidMailboxProvider(name string) bool {
	switch MailboxProvider(name) {
	case MailboxMailTM, MailboxGuerrilla:
		return true
	}
	return false
}

// ErrNoConfirmation 在等待预算内没有等到确认邮件
var ErrNoConfirmation = errors.New("确认邮件未在预算时间内到达")

// Mailbox 一个已分配的临时邮箱
type Mailbox struct {
	Provider MailboxProvider
	Address  string
	ID       string // 服务商侧的邮箱/会话ID
	token    string // mail.tm的JWT / guerrillamail的sid_token
}

// MailboxClient 临时邮箱REST客户端
type MailboxClient struct {
	httpClient    *http.Client
	mailTMBase    string // 默认 https://api.mail.tm
	guerrillaBase string // 默认 https://api.guerrillamail.com/ajax.php
}

// NewMailboxClient 创建邮箱客户端
func NewMailboxClient() *MailboxClient {
	return &MailboxClient{
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		mailTMBase:    "https://api.mail.tm",
		guerrillaBase: "https://api.guerrillamail.com/ajax.php",
	}
}

// Allocate 分配一个新的临时邮箱
func (mc *MailboxClient) Allocate(ctx context.Context, provider MailboxProvider, password string) (*Mailbox, error) {
	switch provider {
	case MailboxMailTM:
		return mc.allocateMailTM(ctx, password)
	case MailboxGuerrilla:
		return mc.allocateGuerrilla(ctx)
	default:
		return nil, fmt.Errorf("不支持的邮箱服务商: %s", provider)
	}
}

// PollForSender 轮询邮箱等待指定发件域的邮件,提取其中的确认链接
// 预算耗尽返回ErrNoConfirmation
func (mc *MailboxClient) PollForSender(ctx context.Context, mailbox *Mailbox, senderDomain string, budget, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		link, found, err := mc.checkOnce(ctx, mailbox, senderDomain)
		if err != nil {
			utils.Debugf("轮询邮箱失败,继续等待: %v", err)
		} else if found {
			return link, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
	return "", ErrNoConfirmation
}

// checkOnce 检查一次邮箱
func (mc *MailboxClient) checkOnce(ctx context.Context, mailbox *Mailbox, senderDomain string) (string, bool, error) {
	switch mailbox.Provider {
	case MailboxMailTM:
		return mc.checkMailTM(ctx, mailbox, senderDomain)
	case MailboxGuerrilla:
		return mc.checkGuerrilla(ctx, mailbox, senderDomain)
	default:
		return "", false, fmt.Errorf("不支持的邮箱服务商: %s", mailbox.Provider)
	}
}

// --- mail.tm ---

// allocateMailTM 在mail.tm注册邮箱并取token
func (mc *MailboxClient) allocateMailTM(ctx context.Context, password string) (*Mailbox, error) {
	// 先取可用域名
	var domains struct {
		Members []struct {
			Domain string `json:"domain"`
		} `json:"hydra:member"`
	}
	if err := mc.getJSON(ctx, mc.mailTMBase+"/domains", "", &domains); err != nil {
		return nil, fmt.Errorf("获取mail.tm域名失败: %w", err)
	}
	if len(domains.Members) == 0 {
		return nil, fmt.Errorf("mail.tm没有可用域名")
	}

	address := fmt.Sprintf("%s@%s", randomLocalPart(), domains.Members[0].Domain)

	var account struct {
		ID string `json:"id"`
	}
	if err := mc.postJSON(ctx, mc.mailTMBase+"/accounts", "", map[string]string{
		"address":  address,
		"password": password,
	}, &account); err != nil {
		return nil, fmt.Errorf("注册mail.tm邮箱失败: %w", err)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := mc.postJSON(ctx, mc.mailTMBase+"/token", "", map[string]string{
		"address":  address,
		"password": password,
	}, &auth); err != nil {
		return nil, fmt.Errorf("获取mail.tm令牌失败: %w", err)
	}

	utils.Debugf("已分配mail.tm邮箱: %s", utils.NewRedactor().RedactEmail(address))
	return &Mailbox{Provider: MailboxMailTM, Address: address, ID: account.ID, token: auth.Token}, nil
}

// checkMailTM 查询mail.tm收件箱
func (mc *MailboxClient) checkMailTM(ctx context.Context, mailbox *Mailbox, senderDomain string) (string, bool, error) {
	var inbox struct {
		Members []struct {
			ID   string `json:"id"`
			From struct {
				Address string `json:"address"`
			} `json:"from"`
		} `json:"hydra:member"`
	}
	if err := mc.getJSON(ctx, mc.mailTMBase+"/messages", mailbox.token, &inbox); err != nil {
		return "", false, err
	}

	for _, msg := range inbox.Members {
		if !strings.Contains(msg.From.Address, senderDomain) {
			continue
		}
		var full struct {
			HTML []string `json:"html"`
			Text string   `json:"text"`
		}
		if err := mc.getJSON(ctx, mc.mailTMBase+"/messages/"+msg.ID, mailbox.token, &full); err != nil {
			return "", false, err
		}
		body := full.Text
		if len(full.HTML) > 0 {
			body = strings.Join(full.HTML, "")
		}
		if link := ExtractConfirmationLink(body); link != "" {
			return link, true, nil
		}
	}
	return "", false, nil
}

// --- Guerrilla Mail ---

// guerrillaCall 拼接ajax.php调用
func (mc *MailboxClient) guerrillaCall(ctx context.Context, params url.Values, out interface{}) error {
	return mc.getJSON(ctx, mc.guerrillaBase+"?"+params.Encode(), "", out)
}

// allocateGuerrilla 获取Guerrilla Mail地址
func (mc *MailboxClient) allocateGuerrilla(ctx context.Context) (*Mailbox, error) {
	var resp struct {
		EmailAddr string `json:"email_addr"`
		SidToken  string `json:"sid_token"`
	}
	params := url.Values{"f": {"get_email_address"}}
	if err := mc.guerrillaCall(ctx, params, &resp); err != nil {
		return nil, fmt.Errorf("获取Guerrilla邮箱失败: %w", err)
	}
	if resp.EmailAddr == "" {
		return nil, fmt.Errorf("Guerrilla未返回邮箱地址")
	}

	utils.Debugf("已分配Guerrilla邮箱: %s", utils.NewRedactor().RedactEmail(resp.EmailAddr))
	return &Mailbox{Provider: MailboxGuerrilla, Address: resp.EmailAddr, ID: resp.SidToken, token: resp.SidToken}, nil
}

// checkGuerrilla 查询Guerrilla收件箱
func (mc *MailboxClient) checkGuerrilla(ctx context.Context, mailbox *Mailbox, senderDomain string) (string, bool, error) {
	var inbox struct {
		List []struct {
			MailID   json.Number `json:"mail_id"`
			MailFrom string      `json:"mail_from"`
		} `json:"list"`
	}
	params := url.Values{"f": {"check_email"}, "seq": {"0"}, "sid_token": {mailbox.token}}
	if err := mc.guerrillaCall(ctx, params, &inbox); err != nil {
		return "", false, err
	}

	for _, msg := range inbox.List {
		if !strings.Contains(msg.MailFrom, senderDomain) {
			continue
		}
		var full struct {
			MailBody string `json:"mail_body"`
		}
		params := url.Values{"f": {"fetch_email"}, "email_id": {msg.MailID.String()}, "sid_token": {mailbox.token}}
		if err := mc.guerrillaCall(ctx, params, &full); err != nil {
			return "", false, err
		}
		if link := ExtractConfirmationLink(full.MailBody); link != "" {
			return link, true, nil
		}
	}
	return "", false, nil
}

// --- 公共部分 ---

// confirmLinkHints 确认链接的路径特征
var confirmLinkHints = []string{"confirm", "verify", "activate", "validate", "email-verification"}

// ExtractConfirmationLink 从邮件正文提取确认链接
// HTML正文用goquery找<a>,纯文本正文退化为逐行扫URL
func ExtractConfirmationLink(body string) string {
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		var link string
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			lower := strings.ToLower(href)
			for _, hint := range confirmLinkHints {
				if strings.Contains(lower, hint) {
					link = href
					return false
				}
			}
			return true
		})
		if link != "" {
			return link
		}
	}

	// 纯文本: 找带确认特征的URL
	for _, field := range strings.Fields(body) {
		lower := strings.ToLower(field)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		for _, hint := range confirmLinkHints {
			if strings.Contains(lower, hint) {
				return strings.TrimRight(field, ".,;)")
			}
		}
	}
	return ""
}

// getJSON 带可选Bearer令牌的GET
func (mc *MailboxClient) getJSON(ctx context.Context, rawURL, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return mc.do(req, out)
}

// postJSON 带可选Bearer令牌的POST
func (mc *MailboxClient) postJSON(ctx context.Context, rawURL, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return mc.do(req, out)
}

// do 执行请求并解析JSON响应
func (mc *MailboxClient) do(req *http.Request, out interface{}) error {
	resp, err := mc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("邮箱服务返回异常状态: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
