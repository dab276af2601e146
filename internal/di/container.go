// internal/di/container.go
package di

import (
	"sync"
)

// Container 是一个按名字索引的依赖注入容器。服务在 app.InitServices
// 中按依赖顺序注册一次，此后各层只读取，不再创建新实例
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	order    []string
}

var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建一个空容器
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// GetContainer 获取全局容器实例（单例）
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册一个服务实例。重复注册同名服务时覆盖旧实例
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = service
}

// Get 按名字取出服务实例，未注册时返回nil
func (c *Container) Get(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.services[name]
}

// Has 检查指定名字的服务是否已注册
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.services[name]
	return exists
}

// GetNames 返回所有已注册服务的名字，按注册顺序
func (c *Container) GetNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}
