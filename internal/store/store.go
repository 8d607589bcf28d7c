package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
)

const (
	accountsFilename   = "trial_accounts.json"
	monitoringFilename = "monitoring_records.jsonl"
)

// Store 文件型文档存储
// 职责: 为试用账号与监控记录提供简单的持久化,真实部署中由外部存储服务承担
type Store struct {
	dir string
	mu  sync.Mutex
}

// New 创建存储实例
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败 [%s]: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// SaveAccounts 整体覆盖保存账号列表
// 先写临时文件再改名,避免中途失败留下半截文件
func (s *Store) SaveAccounts(accounts []models.TrialAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化账号列表失败: %w", err)
	}

	path := filepath.Join(s.dir, accountsFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("写入账号文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换账号文件失败: %w", err)
	}

	utils.Debugf("已保存 %d 个试用账号", len(accounts))
	return nil
}

// LoadAccounts 加载全部账号,文件不存在时返回空列表
func (s *Store) LoadAccounts() ([]models.TrialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, accountsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.TrialAccount{}, nil
		}
		return nil, fmt.Errorf("读取账号文件失败: %w", err)
	}

	var accounts []models.TrialAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("解析账号文件失败: %w", err)
	}
	return accounts, nil
}

// AppendRecord 追加一条监控记录 (JSONL,只追加不修改)
func (s *Store) AppendRecord(record models.MonitoringRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化监控记录失败: %w", err)
	}

	path := filepath.Join(s.dir, monitoringFilename)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("打开监控记录文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("写入监控记录失败: %w", err)
	}
	return nil
}

// LoadRecords 加载since之后的监控记录
// 解析失败的行跳过并告警,不会中断整体加载
func (s *Store) LoadRecords(since time.Time) ([]models.MonitoringRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, monitoringFilename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.MonitoringRecord{}, nil
		}
		return nil, fmt.Errorf("打开监控记录文件失败: %w", err)
	}
	defer f.Close()

	records := make([]models.MonitoringRecord, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r models.MonitoringRecord
		if err := json.Unmarshal(line, &r); err != nil {
			utils.Warnf("跳过损坏的监控记录 (行 %d): %v", lineNum, err)
			continue
		}
		if r.Timestamp.Before(since) {
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取监控记录失败: %w", err)
	}
	return records, nil
}
