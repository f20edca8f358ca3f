package jrpc

import "github.com/pkg/errors"

// ErrInvalidConfig 配置文件无法解析或取值非法
var ErrInvalidConfig = errors.New("jrpc: invalid config")
