package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
)

// Factory 根据实例配置构造后端客户端
type Factory func(inst cfgpkg.InstanceConfig) (Backend, error)

type instancesFile struct {
	Instances []cfgpkg.InstanceConfig `yaml:"instances"`
}

// LoadFile 读取 YAML 实例清单
//
//	instances:
//	  - id: garage
//	    url: http://frigate.local:5000
//	    timeout: 5s
func LoadFile(path string) ([]cfgpkg.InstanceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}
	var f instancesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal instances file: %w", err)
	}
	for i, inst := range f.Instances {
		if inst.ID == "" || inst.URL == "" {
			return nil, fmt.Errorf("instances[%d]: id and url are required", i)
		}
	}
	return f.Instances, nil
}

// Load 用 factory 构造并注册一组实例，遇到第一个错误即返回
func (r *Registry) Load(instances []cfgpkg.InstanceConfig, factory Factory) error {
	for _, inst := range instances {
		b, err := factory(inst)
		if err != nil {
			return fmt.Errorf("instance %s: %w", inst.ID, err)
		}
		r.Register(inst.ID, b)
	}
	return nil
}
