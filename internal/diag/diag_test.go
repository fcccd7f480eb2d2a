package diag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lmcbatch/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	defer w.Close()
	if err := w.WriteLine([]byte("first line that is very long")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := w.WriteLine([]byte("second")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("应存在 current 与 1 个轮转文件, got %d", len(files))
	}
}

func TestRotatingFileNames(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	defer w.Close()
	for i := 0; i < 5; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent, rotated := false, 0
	for _, e := range ents {
		switch {
		case e.Name() == "lmcbatch-current.txt":
			hasCurrent = true
		case strings.HasPrefix(e.Name(), "lmcbatch-") && strings.HasSuffix(e.Name(), ".txt"):
			rotated++
		}
	}
	// 超长单行不会在空文件上触发轮转：5 行 → 4 次轮转
	if !hasCurrent || rotated != 4 {
		t.Fatalf("current=%v rotated=%d", hasCurrent, rotated)
	}
}

func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	if w.maxBytes != 10*1024*1024 {
		t.Fatalf("default maxBytes = %d", w.maxBytes)
	}
	if err := w.WriteLine([]byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	_ = w.Close()
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeUnknown},
		{"cancel", context.Canceled, CodeCancel},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{"config", fmt.Errorf("acronym: %w", contract.ErrConfiguration), CodeConfig},
		{"exhausted", contract.ErrExhausted, CodeExhausted},
		{"nobatch", contract.ErrNoBatch, CodeExhausted},
		{"malformed", fmt.Errorf("align: %w", contract.ErrMalformedData), CodeMalformed},
		{"invalid", contract.ErrInvalidInput, CodeInvariant},
		{"path", contract.ErrPathInvalid, CodeInvariant},
		{"io", &fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{"link", &os.LinkError{Op: "rename", Old: "a", New: "b", Err: errors.New("x")}, CodeIO},
		{"other", errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("%s: got %s want %s", c.name, got, c.want)
		}
	}
}

func TestNowUTC(t *testing.T) {
	if _, err := time.Parse(time.RFC3339, NowUTC()); err != nil {
		t.Fatalf("NowUTC not RFC3339: %v", err)
	}
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestLoggerWritesEvents(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("corr-1", "debug", dir)
	timer := l.StartWith("loader", "epoch", "1", "")
	timer.Finish("epoch done", 4)
	l.DebugStart("loader", "batch", "1", "3", map[string]string{"size": "2"})
	l.WarnKV("loader", "lookup misses", "1", "3", map[string]string{"misses": "2"})
	l.ErrorWith("loader", string(CodeMalformed), "bad row", timer.Since(), "1", "3")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	evs := readEvents(t, filepath.Join(dir, "lmcbatch-current.txt"))
	if len(evs) != 5 {
		t.Fatalf("events = %d, want 5", len(evs))
	}
	if evs[0].Stage != "start" || evs[0].Epoch != "1" || evs[0].CorrID != "corr-1" {
		t.Fatalf("start event = %+v", evs[0])
	}
	if evs[1].Stage != "finish" || evs[1].Count != 4 {
		t.Fatalf("finish event = %+v", evs[1])
	}
	if evs[3].Level != "warn" || evs[3].KV["misses"] != "2" {
		t.Fatalf("warn event = %+v", evs[3])
	}
	if evs[4].Level != "error" || evs[4].Code != "malformed" || evs[4].Batch != "3" {
		t.Fatalf("error event = %+v", evs[4])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("c", "warn", dir)
	l.Start("comp", "msg").Finish("ok", 1)
	l.DebugStart("comp", "msg", "", "", nil)
	l.Error("comp", "io", "boom", nil)
	_ = l.Close()
	evs := readEvents(t, filepath.Join(dir, "lmcbatch-current.txt"))
	if len(evs) != 1 || evs[0].Level != "error" {
		t.Fatalf("warn level should keep only the error, got %+v", evs)
	}
}

func TestLevels(t *testing.T) {
	for in, want := range map[string]Level{"debug": Debug, " WARN ": Warn, "error": Error, "": Info, "x": Info} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v", in, got)
		}
	}
	var unknown Level = 12345
	if unknown.String() != "info" || Warn.String() != "warn" {
		t.Fatalf("Level.String")
	}
	// nil 接收者早返回
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
	var lnil *Logger
	lnil.Error("c", "x", "y", nil)
	if err := lnil.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	IncOp("metrics_test", "next", "success")
	IncOp("metrics_test", "next", "success")
	IncError("metrics_test", "malformed")
	ObserveDuration("metrics_test", "next", 7)
	snap := Snapshot()
	if snap["op_total{metrics_test,next,success}"] < 2 {
		t.Fatalf("op_total = %d", snap["op_total{metrics_test,next,success}"])
	}
	if snap["error_total{metrics_test,malformed}"] < 1 {
		t.Fatalf("error_total missing")
	}
	if SnapshotKV()["op_duration_ms{metrics_test,next}"] == "" {
		t.Fatalf("duration missing in kv")
	}
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(2, "acronym")
	term.EpochStart(1, 12)
	term.EpochProgress(6, 12, 0) // 非 TTY：不输出进度
	term.EpochFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] epochs=2 | batcher=acronym",
		"[epoch] 1/2 | 计划批次=12",
		"[done] epoch 1 | 批次 12 | 用时 5.1s",
		"[ok] 全部完成 | 轮次 1 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(1, "skipgram")
	term.EpochStart(1, 3)

	term.EpochProgress(1, 3, 0)
	first := sb.String()
	if !strings.Contains(first, "\r[epoch]") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.EpochProgress(2, 3, 1)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.EpochProgress(2, 3, 1)
	third := sb.String()
	if len(third) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.EpochFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = false
	term.RunStart(1, "x")
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.EpochStart(1, 0)
	term.EpochProgress(0, 0, 0)
	term.EpochFinish(true, 0)
	term.RunFinish(true, 0)

	tty := NewTerminal(&flakyWriter{fail: true}, true)
	tty.isTTY = true
	tty.EpochProgress(1, 2, 0)
	if tty.enabled {
		t.Fatalf("terminal should be disabled after inline error")
	}
}

func TestTerminalNilAndGlobal(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x")
	tn.EpochStart(1, 1)
	tn.EpochProgress(0, 0, 0)
	tn.EpochFinish(true, 0)
	tn.RunFinish(true, 0)

	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)

	t.Setenv("CI", "true")
	if NewTerminal(os.Stderr, true).isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}

func TestHelpers(t *testing.T) {
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" {
		t.Fatalf("formatDur 0ms failed")
	}
	if formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur 1.5s failed: %s", formatDur(1500*time.Millisecond))
	}
}
