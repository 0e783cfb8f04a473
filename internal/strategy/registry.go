// Package strategy 提供回测引擎消费的策略实现与注册表。
// 策略参数以 JSON 提交，注册时绑定 schema，构造前先行校验。
package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"riptide/internal/engine"
)

// Factory 描述一种可实例化的策略。
type Factory struct {
	Name        string
	Description string
	// Schema 为参数的 JSON Schema；空表示不接受参数。
	Schema string
	New    func(params []byte) (engine.Strategy, error)
}

// Registry 按名字管理策略工厂；每个 run 创建独立策略实例。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	schemas   map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Register 登记工厂并编译其参数 schema。
func (r *Registry) Register(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("strategy factory name 不能为空")
	}
	if f.New == nil {
		return fmt.Errorf("strategy factory %s 缺少构造函数", f.Name)
	}
	var sch *jsonschema.Schema
	if f.Schema != "" {
		compiled, err := jsonschema.CompileString(f.Name+".json", f.Schema)
		if err != nil {
			return fmt.Errorf("strategy %s schema 编译失败: %w", f.Name, err)
		}
		sch = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[f.Name]; dup {
		return fmt.Errorf("strategy %s 重复注册", f.Name)
	}
	r.factories[f.Name] = f
	if sch != nil {
		r.schemas[f.Name] = sch
	}
	return nil
}

// Names 返回已注册策略名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New 校验参数并实例化策略。
func (r *Registry) New(name string, params []byte) (engine.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	sch := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知策略: %s", name)
	}
	if sch != nil && len(params) > 0 {
		var doc any
		if err := json.Unmarshal(params, &doc); err != nil {
			return nil, fmt.Errorf("策略 %s 参数不是合法 JSON: %w", name, err)
		}
		if err := sch.Validate(doc); err != nil {
			return nil, fmt.Errorf("策略 %s 参数校验失败: %w", name, err)
		}
	}
	return factory.New(params)
}

// DefaultRegistry 注册内置策略。
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(SMACrossFactory()); err != nil {
		return nil, err
	}
	if err := r.Register(RSIReversionFactory()); err != nil {
		return nil, err
	}
	return r, nil
}
