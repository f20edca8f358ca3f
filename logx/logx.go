// Package logx 是基于 zerolog 的结构化日志封装。
// 零值 Logger 为 no-op，可以直接嵌入各组件而无需判空。
package logx

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config 日志输出配置
type Config struct {
	Level   string    // debug / info / warn / error
	Console bool      // true: 人类可读；false: JSON 行
	Out     io.Writer // 默认 os.Stderr
}

// Field 修改一条日志事件，按顺序应用
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Uint32(k string, v uint32) Field {
	return func(e *zerolog.Event) { e.Uint32(k, v) }
}
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger 轻量结构化 logger；With 派生带固定字段的子 logger，
// 子 logger 与父 logger 共享同一个级别
type Logger struct {
	base    zerolog.Logger
	hasBase bool
	level   *atomic.Int32
	fields  []Field
}

// New 按配置创建 logger
func New(cfg Config) Logger {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(ParseLevel(cfg.Level, zerolog.InfoLevel)))
	zl := zerolog.New(out).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true, level: lvl}
}

// Nop 返回永不输出的 logger
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// SetLevel 运行期切换级别（配置热加载使用），对 New 派生出的所有 logger 生效
func (l Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Store(int32(ParseLevel(level, zerolog.InfoLevel)))
	}
}

// Level 返回当前级别
func (l Logger) Level() Level {
	if l.level == nil {
		return zerolog.Disabled
	}
	return Level(l.level.Load())
}

// ParseLevel 解析级别字符串，无法识别时返回 def
func ParseLevel(level string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return def
}

func (l Logger) IsZero() bool { return !l.hasBase && len(l.fields) == 0 }

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

func (l Logger) log(level zerolog.Level, msg string, fields []Field) {
	if !l.hasBase || l.level == nil || level < Level(l.level.Load()) {
		return
	}
	e := l.base.WithLevel(level)
	if e == nil {
		return
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}
