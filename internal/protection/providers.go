package protection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// ProviderName 打码服务商 (封闭集合,新增服务商需要同时扩展任务类型映射)
type ProviderName string

const (
	ProviderCapSolver   ProviderName = "capsolver"
	ProviderTwoCaptcha  ProviderName = "2captcha"
	ProviderAntiCaptcha ProviderName = "anticaptcha"
)

// ValidProvider 检查服务商名称是否在封闭集合内
func ValidProvider(name string) bool {
	switch ProviderName(name) {
	case ProviderCapSolver, ProviderTwoCaptcha, ProviderAntiCaptcha:
		return true
	}
	return false
}

// 各服务商默认API入口
var providerEndpoints = map[ProviderName]string{
	ProviderCapSolver:   "https://api.capsolver.com",
	ProviderTwoCaptcha:  "https://api.2captcha.com",
	ProviderAntiCaptcha: "https://api.anti-captcha.com",
}

// 各服务商建议的轮询间隔
var providerPollIntervals = map[ProviderName]time.Duration{
	ProviderCapSolver:   5 * time.Second,
	ProviderAntiCaptcha: 8 * time.Second,
	ProviderTwoCaptcha:  10 * time.Second,
}

// ProviderConfig 单个打码服务商配置
type ProviderConfig struct {
	Name         ProviderName  `mapstructure:"name"`
	APIKey       string        `mapstructure:"api_key"`
	Endpoint     string        `mapstructure:"endpoint"` // 为空时使用服务商默认入口
	Active       bool          `mapstructure:"active"`
	Priority     int           `mapstructure:"priority"`      // 数字越小越优先
	PollInterval time.Duration `mapstructure:"poll_interval"` // 为空时使用服务商默认间隔
}

// EndpointOrDefault 解析API入口
func (c ProviderConfig) EndpointOrDefault() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return providerEndpoints[c.Name]
}

// PollIntervalOrDefault 解析轮询间隔
func (c ProviderConfig) PollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	if interval, ok := providerPollIntervals[c.Name]; ok {
		return interval
	}
	return 10 * time.Second
}

// taskTypeFor 服务商任务类型命名映射
// 三家服务商都是createTask→getTaskResult模型,但任务类型的拼写各不相同
func taskTypeFor(provider ProviderName, challenge ChallengeType) (string, error) {
	switch provider {
	case ProviderCapSolver:
		switch challenge {
		case ChallengeTurnstile, ChallengeCloudflareCaptcha:
			return "AntiTurnstileTaskProxyLess", nil
		case ChallengeHCaptcha:
			return "HCaptchaTaskProxyLess", nil
		case ChallengeRecaptchaV2:
			return "ReCaptchaV2TaskProxyLess", nil
		case ChallengeRecaptchaV3:
			return "ReCaptchaV3TaskProxyLess", nil
		}
	case ProviderTwoCaptcha, ProviderAntiCaptcha:
		switch challenge {
		case ChallengeTurnstile, ChallengeCloudflareCaptcha:
			return "TurnstileTaskProxyless", nil
		case ChallengeHCaptcha:
			return "HCaptchaTaskProxyless", nil
		case ChallengeRecaptchaV2:
			return "RecaptchaV2TaskProxyless", nil
		case ChallengeRecaptchaV3:
			return "RecaptchaV3TaskProxyless", nil
		}
	}
	return "", fmt.Errorf("服务商 %s 不支持挑战类型 %s", provider, challenge)
}

// SolveRequest 一次打码请求
type SolveRequest struct {
	Challenge ChallengeType
	SiteKey   string
	PageURL   string
	Action    string // reCAPTCHA v3的pageAction,可为空
}

// solveTaskPayload createTask请求里的task对象
type solveTaskPayload struct {
	Type       string  `json:"type"`
	WebsiteURL string  `json:"websiteURL"`
	WebsiteKey string  `json:"websiteKey"`
	PageAction string  `json:"pageAction,omitempty"` // v3
	MinScore   float64 `json:"minScore,omitempty"`   // v3
}

// createTaskResponse createTask响应
// taskId字段有的服务商返回字符串,有的返回数字,原样保留避免精度问题
type createTaskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
}

// taskResultResponse getTaskResult响应
type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"` // processing | ready | failed
	Solution         struct {
		Token              string `json:"token"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// errExplicitFailure 服务商明确报告失败,该服务商立即放弃,不再轮询
type errExplicitFailure struct {
	provider ProviderName
	reason   string
}

func (e *errExplicitFailure) Error() string {
	return fmt.Sprintf("服务商 %s 明确失败: %s", e.provider, e.reason)
}

// SolverClient 打码服务REST客户端
type SolverClient struct {
	httpClient *http.Client
	timeout    time.Duration // 单个服务商的总时限
}

// NewSolverClient 创建打码客户端
// timeout为0时默认180秒
func NewSolverClient(timeout time.Duration) *SolverClient {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &SolverClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		timeout:    timeout,
	}
}

// Solve 对单个服务商执行 创建任务→轮询结果 流程
// 服务商明确报告失败时立即返回错误,超时同样返回错误
func (sc *SolverClient) Solve(ctx context.Context, cfg ProviderConfig, req SolveRequest) (string, error) {
	taskType, err := taskTypeFor(cfg.Name, req.Challenge)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(sc.timeout)
	solveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	taskID, err := sc.createTask(solveCtx, cfg, taskType, req)
	if err != nil {
		return "", err
	}
	utils.Debugf("打码任务已创建: 服务商=%s, 类型=%s", cfg.Name, taskType)

	interval := cfg.PollIntervalOrDefault()
	for {
		token, done, err := sc.pollResult(solveCtx, cfg, taskID)
		if err != nil {
			return "", err
		}
		if done {
			utils.Infof("✅ 打码成功: 服务商=%s", cfg.Name)
			return token, nil
		}

		select {
		case <-solveCtx.Done():
			return "", fmt.Errorf("服务商 %s 打码超时(%.0f秒)", cfg.Name, sc.timeout.Seconds())
		case <-time.After(interval):
		}
	}
}

// createTask 提交打码任务
func (sc *SolverClient) createTask(ctx context.Context, cfg ProviderConfig, taskType string, req SolveRequest) (json.RawMessage, error) {
	task := solveTaskPayload{
		Type:       taskType,
		WebsiteURL: req.PageURL,
		WebsiteKey: req.SiteKey,
	}
	if req.Challenge == ChallengeRecaptchaV3 {
		task.PageAction = req.Action
		task.MinScore = 0.3
	}

	var resp createTaskResponse
	if err := sc.post(ctx, cfg, "/createTask", map[string]interface{}{
		"clientKey": cfg.APIKey,
		"task":      task,
	}, &resp); err != nil {
		return nil, err
	}

	if resp.ErrorID != 0 {
		return nil, &errExplicitFailure{provider: cfg.Name, reason: firstNonEmpty(resp.ErrorDescription, resp.ErrorCode, "createTask错误")}
	}
	if len(resp.TaskID) == 0 {
		return nil, fmt.Errorf("服务商 %s 未返回任务ID", cfg.Name)
	}
	return resp.TaskID, nil
}

// pollResult 查询一次任务结果
// 返回 (token, 是否完成, 错误); 明确失败作为错误返回
func (sc *SolverClient) pollResult(ctx context.Context, cfg ProviderConfig, taskID json.RawMessage) (string, bool, error) {
	var resp taskResultResponse
	if err := sc.post(ctx, cfg, "/getTaskResult", map[string]interface{}{
		"clientKey": cfg.APIKey,
		"taskId":    taskID,
	}, &resp); err != nil {
		return "", false, err
	}

	if resp.ErrorID != 0 || resp.Status == "failed" {
		return "", false, &errExplicitFailure{provider: cfg.Name, reason: firstNonEmpty(resp.ErrorDescription, resp.ErrorCode, "任务失败")}
	}
	if resp.Status != "ready" {
		return "", false, nil
	}

	token := firstNonEmpty(resp.Solution.Token, resp.Solution.GRecaptchaResponse)
	if token == "" {
		return "", false, &errExplicitFailure{provider: cfg.Name, reason: "ready但无token"}
	}
	return token, true, nil
}

// post 发送JSON请求并解析响应
func (sc *SolverClient) post(ctx context.Context, cfg ProviderConfig, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化打码请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.EndpointOrDefault()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造打码请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := sc.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("请求服务商 %s 失败: %w", cfg.Name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("服务商 %s 返回异常状态: HTTP %d", cfg.Name, httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1*1024*1024))
	if err != nil {
		return fmt.Errorf("读取服务商 %s 响应失败: %w", cfg.Name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析服务商 %s 响应失败: %w", cfg.Name, err)
	}
	return nil
}

// firstNonEmpty 取第一个非空字符串
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
