package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel 解析配置中的级别字符串；未知值按 info 处理。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件；dir 为空时写 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 以 level 初始化，日志写入 dir 下的轮转文件（10 MiB）。
func NewLogger(corrID, level, dir string) *Logger {
	l := &Logger{corrID: corrID, level: ParseLevel(level)}
	if strings.TrimSpace(dir) != "" {
		l.sink = NewRotatingFile(dir, 10*1024*1024)
	}
	return l
}

// Close 释放日志文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|error|warn
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	Epoch  string            `json:"epoch,omitempty"`
	Batch  string            `json:"batch_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 epoch/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, epoch, batch string) *Timer {
	return l.StartWithKV(comp, msg, epoch, batch, nil)
}

// StartWithKV 记录带 epoch/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, epoch, batch string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Epoch: epoch, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, epoch: epoch, batch: batch, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 epoch/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, epoch, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, epoch, batch, nil)
}

// ErrorWithKV 支持附带键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, epoch, batch string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, Epoch: epoch, Batch: batch, KV: kv})
}

// WarnKV 记录可恢复的异常（例如查找未命中被钳制为 0）。
func (l *Logger) WarnKV(comp, msg, epoch, batch string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", Epoch: epoch, Batch: batch, Msg: msg, KV: kv})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, epoch, batch string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", Epoch: epoch, Batch: batch, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	epoch string
	batch string
	t0    time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0)
	ObserveDuration(t.comp, "finish", dur.Milliseconds())
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur.Milliseconds(), Count: count, Epoch: t.epoch, Batch: t.batch, Msg: msg})
}

// Since 返回计时起点，供 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
