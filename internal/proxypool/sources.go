package proxypool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

// APISourceConfig 远程代理列表API配置
type APISourceConfig struct {
	URL     string        // 列表接口地址
	Token   string        // Bearer令牌,为空时跳过该来源
	Timeout time.Duration // 请求超时 (默认15秒)
}

// apiProxyEntry 远程API返回的单条代理记录
// 不同服务商对主机字段命名不一,ip与host都接受
type apiProxyEntry struct {
	IP       string `json:"ip"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Protocol string `json:"protocol"`
	Country  string `json:"country"`
}

// loadStatic 从静态配置列表加载
func (p *Pool) loadStatic() []models.Proxy {
	proxies := make([]models.Proxy, 0, len(p.cfg.Static))
	for _, proxy := range p.cfg.Static {
		proxy.Source = models.SourceStatic
		proxy.FailCount = 0
		proxies = append(proxies, proxy)
	}
	utils.Debugf("静态来源加载了 %d 个代理", len(proxies))
	return proxies
}

// loadAPI 从远程代理列表API加载 (Bearer认证)
func (p *Pool) loadAPI(ctx context.Context) ([]models.Proxy, error) {
	cfg := p.cfg.API
	if cfg.URL == "" || cfg.Token == "" {
		// 凭据缺失时该来源直接跳过,不视为错误
		utils.Debug("远程代理API未配置,跳过该来源")
		return nil, nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("构造代理列表请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求代理列表API失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("代理列表API返回异常状态: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("读取代理列表响应失败: %w", err)
	}

	var entries []apiProxyEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("解析代理列表响应失败: %w", err)
	}

	proxies := make([]models.Proxy, 0, len(entries))
	for _, entry := range entries {
		host := entry.Host
		if host == "" {
			host = entry.IP
		}
		protocol := models.ProxyProtocol(entry.Protocol)
		if protocol == "" {
			protocol = models.ProtocolHTTP
		}
		proxies = append(proxies, models.Proxy{
			Host:     host,
			Port:     entry.Port,
			Username: entry.Username,
			Password: entry.Password,
			Protocol: protocol,
			Country:  entry.Country,
			Source:   models.SourceAPI,
		})
	}
	utils.Debugf("远程API来源加载了 %d 个代理", len(proxies))
	return proxies, nil
}

// loadTrial 从有效试用账号提取的代理端点加载
func (p *Pool) loadTrial() []models.Proxy {
	if p.trials == nil {
		utils.Debug("试用账号来源未接入,跳过该来源")
		return nil
	}
	proxies := p.trials.ActiveTrialProxies()
	for i := range proxies {
		proxies[i].Source = models.SourceTrial
		proxies[i].FailCount = 0
	}
	utils.Debugf("试用来源加载了 %d 个代理", len(proxies))
	return proxies
}
