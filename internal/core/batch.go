package core

import (
	"context"
	"sync"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/schollz/progressbar/v3"
)

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// FetchBatch 批量抓取多个目标
// 并发度由配置控制,每个目标独立会话,结果顺序与输入一致
func (o *Orchestrator) FetchBatch(ctx context.Context, targets []utils.FetchTarget) []models.FetchResult {
	if len(targets) == 0 {
		return nil
	}

	concurrency := o.cfg.Fetch.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	utils.Infof("📥 批量抓取开始: 目标数=%d, 并发=%d", len(targets), concurrency)

	bar := NewProgressBar(len(targets), "抓取可用性日历")
	results := make([]models.FetchResult, len(targets))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrency)

	for i, target := range targets {
		wg.Add(1)
		go func(index int, target utils.FetchTarget) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[index] = o.ResolveAvailability(ctx, target.URL, target.Platform)
			_ = bar.Add(1)
		}(i, target)
	}
	wg.Wait()

	succeeded := 0
	for i := range results {
		if results[i].OK() {
			succeeded++
		}
	}
	utils.Infof("✅ 批量抓取完成: 成功=%d, 失败=%d", succeeded, len(targets)-succeeded)
	return results
}
