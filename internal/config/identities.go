package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WanderingAshes/TripHarvest/internal/models"
	"github.com/WanderingAshes/TripHarvest/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultIdentityFile 默认身份目录文件路径
	DefaultIdentityFile = "configs/identities.yaml"

	// MaxIdentityFileSize 身份目录文件最大大小 (1MB)
	MaxIdentityFileSize = 1 * 1024 * 1024
)

//go:embed identities_template.yaml
var defaultIdentityTemplate string

// IdentityCatalogLoader 浏览器身份目录加载器
// 负责加载、验证浏览器指纹身份配置文件
type IdentityCatalogLoader struct {
	configPath string
}

// NewIdentityCatalogLoader 创建身份目录加载器
func NewIdentityCatalogLoader(configPath string) *IdentityCatalogLoader {
	if configPath == "" {
		configPath = DefaultIdentityFile
	}
	return &IdentityCatalogLoader{configPath: configPath}
}

// EnsureConfigExists 确保配置文件存在,如不存在则自动生成模板
func (icl *IdentityCatalogLoader) EnsureConfigExists() error {
	if _, err := os.Stat(icl.configPath); os.IsNotExist(err) {
		dir := filepath.Dir(icl.configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}
		if err := os.WriteFile(icl.configPath, []byte(defaultIdentityTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成身份目录文件 [%s]: %w", icl.configPath, err)
		}
		utils.Infof("已生成默认浏览器身份目录: %s", icl.configPath)
	}
	return nil
}

// LoadCatalog 加载并验证身份目录
func (icl *IdentityCatalogLoader) LoadCatalog() ([]models.BrowserIdentity, error) {
	if err := icl.EnsureConfigExists(); err != nil {
		return nil, err
	}

	// 防御超大配置文件
	info, err := os.Stat(icl.configPath)
	if err != nil {
		return nil, fmt.Errorf("读取身份目录文件信息失败: %w", err)
	}
	if info.Size() > MaxIdentityFileSize {
		return nil, fmt.Errorf("身份目录文件过大: %d 字节 (上限 %d)", info.Size(), MaxIdentityFileSize)
	}

	v := viper.New()
	v.SetConfigFile(icl.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取身份目录失败: %w", err)
	}

	var payload struct {
		Identities []models.BrowserIdentity `mapstructure:"identities"`
	}
	if err := v.Unmarshal(&payload); err != nil {
		return nil, fmt.Errorf("解析身份目录失败: %w", err)
	}

	if len(payload.Identities) == 0 {
		return nil, fmt.Errorf("身份目录为空: %s", icl.configPath)
	}

	for i := range payload.Identities {
		if err := payload.Identities[i].Validate(); err != nil {
			return nil, fmt.Errorf("身份目录验证失败: %w", err)
		}
	}

	utils.Debugf("成功加载 %d 个浏览器身份", len(payload.Identities))
	return payload.Identities, nil
}
