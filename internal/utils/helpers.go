package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// FetchTarget 批量抓取目标 (URL + 平台标识)
type FetchTarget struct {
	URL      string
	Platform string
}

// ReadTargetsFromFile 从文件读取抓取目标列表
// 文件格式: 每行 "platform URL",跳过空行和#注释行
func ReadTargetsFromFile(filepath string, validate func(string) error) ([]FetchTarget, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开目标文件失败: %w", err)
	}
	defer file.Close()

	targets := make([]FetchTarget, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		var target FetchTarget
		switch len(fields) {
		case 1:
			target = FetchTarget{URL: fields[0], Platform: "generic"}
		case 2:
			target = FetchTarget{Platform: fields[0], URL: fields[1]}
		default:
			Warnf("跳过格式错误的行 (行 %d): %s", lineNum, line)
			continue
		}

		if err := validate(target.URL); err != nil {
			Warnf("跳过无效URL (行 %d): %s - %v", lineNum, target.URL, err)
			continue
		}

		targets = append(targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取目标文件失败: %w", err)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("目标文件中没有有效的目标")
	}

	Infof("从文件加载了 %d 个抓取目标", len(targets))
	return targets, nil
}
