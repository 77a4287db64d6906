package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

// versioner 支持版本探测的后端（frigate.Client 实现）
type versioner interface {
	Version(ctx context.Context) (string, error)
}

// instanceLister 可列举并解析实例的注册表
type instanceLister interface {
	IDs() []string
	Resolve(id string) (registry.Backend, bool)
}

// FrigateChecker 逐个探测已注册 Frigate 实例的 /api/version
type FrigateChecker struct {
	reg instanceLister
}

// NewFrigateChecker 创建 Frigate 检查器
func NewFrigateChecker(reg instanceLister) *FrigateChecker {
	return &FrigateChecker{reg: reg}
}

// Name 返回检查器名称
func (c *FrigateChecker) Name() string {
	return "frigate"
}

// Check 全部失败为不健康；部分失败或没有实例为降级
func (c *FrigateChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	ids := c.reg.IDs()
	if len(ids) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no frigate instances registered", Latency: time.Since(start)}
	}

	details := make(map[string]any, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	failed, probed := 0, 0

	for _, id := range ids {
		b, ok := c.reg.Resolve(id)
		if !ok {
			continue
		}
		v, ok := b.(versioner)
		if !ok {
			mu.Lock()
			details[id] = "unprobed"
			mu.Unlock()
			continue
		}
		probed++
		wg.Add(1)
		go func(id string, v versioner) {
			defer wg.Done()
			version, err := v.Version(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				details[id] = fmt.Sprintf("error: %v", err)
				return
			}
			details[id] = version
		}(id, v)
	}
	wg.Wait()

	status, message := StatusHealthy, "ok"
	switch {
	case probed > 0 && failed == probed:
		status, message = StatusUnhealthy, "all frigate instances unreachable"
	case failed > 0:
		status, message = StatusDegraded, fmt.Sprintf("%d/%d frigate instances unreachable", failed, probed)
	}
	return CheckResult{Status: status, Message: message, Details: details, Latency: time.Since(start)}
}
