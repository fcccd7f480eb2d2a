package diag

import (
	"strconv"
	"strings"
	"sync"
)

// 进程内最小指标：
//   - op_total{comp,stage,result}
//   - error_total{comp,code}
//   - op_duration_ms{comp,stage}（累计）
// 运行结束时由 CLI 以 debug 日志输出快照。

var (
	metricsMu sync.Mutex
	counters  = map[string]int64{}
)

func add(key string, v int64) {
	metricsMu.Lock()
	counters[key] += v
	metricsMu.Unlock()
}

func key(name string, labels ...string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { add(key("op_total", comp, stage, result), 1) }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { add(key("error_total", comp, code), 1) }

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	add(key("op_duration_ms", comp, stage), durMS)
}

// Snapshot 返回当前计数的副本。
func Snapshot() map[string]int64 {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make(map[string]int64, len(counters))
	for k, v := range counters {
		out[k] = v
	}
	return out
}

// SnapshotKV 以字符串键值返回快照（用于日志 kv 字段）。
func SnapshotKV() map[string]string {
	snap := Snapshot()
	out := make(map[string]string, len(snap))
	for k, v := range snap {
		out[k] = strconv.FormatInt(v, 10)
	}
	return out
}
