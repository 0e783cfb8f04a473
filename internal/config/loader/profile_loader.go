// Package loader 从 YAML 文件加载策略 Profile，并支持热更新。
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"riptide/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition 描述单个策略 Profile：策略名、参数与目标行情。
type ProfileDefinition struct {
	Name      string         `yaml:"-"`
	Strategy  string         `yaml:"strategy"`
	Symbol    string         `yaml:"symbol"`
	Timeframe string         `yaml:"timeframe"`
	Params    map[string]any `yaml:"params"`
	// Variants 为批量回测的参数扫描：每个条目在 Params 基础上覆盖。
	Variants []map[string]any `yaml:"variants"`
	Default  bool             `yaml:"default"`
}

// ParamsJSON 把 Params 序列化为 JSON，供策略注册表校验与构造。
func (d ProfileDefinition) ParamsJSON() ([]byte, error) {
	if len(d.Params) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Params)
}

// VariantParamsJSON 展开参数扫描：无 Variants 时返回单组 Params。
func (d ProfileDefinition) VariantParamsJSON() ([][]byte, error) {
	if len(d.Variants) == 0 {
		base, err := d.ParamsJSON()
		if err != nil {
			return nil, err
		}
		return [][]byte{base}, nil
	}
	out := make([][]byte, 0, len(d.Variants))
	for i, override := range d.Variants {
		merged := make(map[string]any, len(d.Params)+len(override))
		for k, v := range d.Params {
			merged[k] = v
		}
		for k, v := range override {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("profile %s variant %d: %w", d.Name, i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// fileConfig 是完整的 profile 配置文件结构。
type fileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Names 返回排序后的 profile 名称列表。
func (s ProfileSnapshot) Names() []string {
	out := make([]string, 0, len(s.Profiles))
	for name := range s.Profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultProfile 返回标记为 default 的 profile；没有则返回 false。
func (s ProfileSnapshot) DefaultProfile() (ProfileDefinition, bool) {
	for _, name := range s.Names() {
		if s.Profiles[name].Default {
			return s.Profiles[name], true
		}
	}
	return ProfileDefinition{}, false
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 负责从 YAML 文件中加载策略 profile，并监听热更新。
type ProfileLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	loader := &ProfileLoader{path: path}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create profile watcher failed: %w", err)
	}
	// 监听目录而非文件：编辑器常用 rename+create 的方式保存。
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch profile dir failed: %w", err)
	}
	loader.watcher = watcher
	go loader.watchLoop()
	return loader, nil
}

func (l *ProfileLoader) watchLoop() {
	target := filepath.Clean(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("profile watcher error: %v", err)
		}
	}
}

// Close 停止文件监听。
func (l *ProfileLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Get 按名字返回单个 profile。
func (l *ProfileLoader) Get(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[name]
	return def, ok
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}
	var fileCfg fileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition, len(fileCfg.Profiles))
	for name, def := range fileCfg.Profiles {
		norm, err := normalizeProfileDefinition(name, def)
		if err != nil {
			return err
		}
		normalized[name] = norm
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeProfileDefinition(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = name
	def.Strategy = strings.TrimSpace(def.Strategy)
	if def.Strategy == "" {
		return def, fmt.Errorf("profile %s: strategy 不能为空", name)
	}
	def.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
	if def.Symbol == "" {
		return def, fmt.Errorf("profile %s: symbol 不能为空", name)
	}
	def.Timeframe = strings.ToLower(strings.TrimSpace(def.Timeframe))
	if def.Timeframe == "" {
		def.Timeframe = "1d"
	}
	return def, nil
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	out := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		out.Profiles[name] = cloneProfileDefinition(def)
	}
	return out
}

func cloneProfileDefinition(def ProfileDefinition) ProfileDefinition {
	out := def
	if len(def.Params) > 0 {
		params := make(map[string]any, len(def.Params))
		for k, v := range def.Params {
			params[k] = v
		}
		out.Params = params
	}
	if len(def.Variants) > 0 {
		variants := make([]map[string]any, len(def.Variants))
		for i, v := range def.Variants {
			cp := make(map[string]any, len(v))
			for k, val := range v {
				cp[k] = val
			}
			variants[i] = cp
		}
		out.Variants = variants
	}
	return out
}
