package jrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	yaml "go.yaml.in/yaml/v3"
)

// reloadDebounce 合并编辑器保存时产生的多次写事件
const reloadDebounce = 100 * time.Millisecond

// LoadConfig 读取 .json / .yaml / .yml 配置；未出现的字段取 DefaultConfig 的值，未知字段报错
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "jrpc: read config")
	}
	return ParseConfig(path, b)
}

// ParseConfig 按 path 的扩展名解析配置内容
func ParseConfig(path string, data []byte) (Config, error) {
	jb, err := coerceToJSON(path, data)
	if err != nil {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Config{}, errors.Wrap(ErrInvalidConfig, "trailing data")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// coerceToJSON 把 yaml 转为 json，两种格式共用同一个严格的 json 解码
func coerceToJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(normalizeYAML(v))
}

// normalizeYAML 保证所有 map 的 key 都是字符串
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	}
	return in
}

// WatchConfig 监听配置文件变化，每次（去抖后）重新解析并回调 fn，直到 ctx 结束。
// 监听的是文件所在目录，编辑器以 rename 方式保存也能收到事件。
func WatchConfig(ctx context.Context, path string, fn func(Config, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "jrpc: watch config")
	}
	defer w.Close()

	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "jrpc: watch %s", dir)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		fn(LoadConfig(path))
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fn(Config{}, errors.Wrap(err, "jrpc: watch config"))
		}
	}
}
