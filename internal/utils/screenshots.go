package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ScreenshotKeeper 人工兜底截图管理器
// 职责: 保存待人工处理的挑战截图,并限制磁盘上的累计数量
type ScreenshotKeeper struct {
	dir     string
	maxKeep int
}

// NewScreenshotKeeper 创建截图管理器
// maxKeep<=0时使用默认值50
func NewScreenshotKeeper(dir string, maxKeep int) *ScreenshotKeeper {
	if maxKeep <= 0 {
		maxKeep = 50
	}
	return &ScreenshotKeeper{dir: dir, maxKeep: maxKeep}
}

// Save 保存一张截图并立即执行保留策略
// 返回截图文件完整路径
func (sk *ScreenshotKeeper) Save(taskID string, data []byte) (string, error) {
	if err := os.MkdirAll(sk.dir, 0755); err != nil {
		return "", fmt.Errorf("创建截图目录失败: %w", err)
	}

	filename := fmt.Sprintf("challenge_%s_%s.png", time.Now().Format("20060102_150405"), taskID)
	path := filepath.Join(sk.dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入截图失败: %w", err)
	}

	if err := sk.prune(); err != nil {
		Warnf("清理历史截图失败: %v", err)
	}

	return path, nil
}

// prune 按修改时间保留最新的maxKeep张,其余删除
func (sk *ScreenshotKeeper) prune() error {
	entries, err := os.ReadDir(sk.dir)
	if err != nil {
		return err
	}

	type shot struct {
		path    string
		modTime time.Time
	}
	shots := make([]shot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		shots = append(shots, shot{path: filepath.Join(sk.dir, e.Name()), modTime: info.ModTime()})
	}

	if len(shots) <= sk.maxKeep {
		return nil
	}

	// 新的在前
	sort.Slice(shots, func(i, j int) bool {
		return shots[i].modTime.After(shots[j].modTime)
	})

	for _, s := range shots[sk.maxKeep:] {
		if err := os.Remove(s.path); err != nil {
			Warnf("删除过期截图失败 [%s]: %v", s.path, err)
		}
	}

	Debugf("截图保留策略生效: 保留%d张,删除%d张", sk.maxKeep, len(shots)-sk.maxKeep)
	return nil
}

// Count 返回当前目录下的截图数量
func (sk *ScreenshotKeeper) Count() (int, error) {
	entries, err := os.ReadDir(sk.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			n++
		}
	}
	return n, nil
}
