package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"lmcbatch/internal/diag"
	"lmcbatch/pkg/contract"
)

// - 单点并发：仅此层持有生产者 goroutine；批处理器本身同步、单线程，由生产者独占。
// - 有界预取：生产者最多领先消费者 Prefetch 个批。
// - 首错取消：任一阶段出错即 cancel，排空后返回首错。
// - 轮末断言：每轮消费完毕后批处理器必须处于耗尽态。

// Consumer 接收一轮中的一个批；index 从 0 开始。
type Consumer func(ctx context.Context, epoch, index int, b contract.Batch) error

// Components 聚合运行所需组件。Writer 与 Consume 均可为空。
type Components struct {
	Batcher contract.Batcher
	Writer  contract.Writer
	Consume Consumer
}

// Settings 运行期配置。
type Settings struct {
	Epochs   int
	Shuffle  bool
	Prefetch int
	// Name 仅用于终端与日志展示。
	Name string
}

// Summary 为 JSONL 摘要中的一行。
type Summary struct {
	Epoch  int              `json:"epoch"`
	Batch  int              `json:"batch"`
	Size   int              `json:"size"`
	Misses int              `json:"misses"`
	Shapes []contract.Shape `json:"shapes"`
}

// Stats 汇总整次运行。
type Stats struct {
	Epochs   int
	Batches  int
	Examples int
	Misses   int
}

// SummaryID 返回第 epoch 轮摘要的工件标识。
func SummaryID(epoch int) contract.ArtifactID {
	return contract.ArtifactID(fmt.Sprintf("epochs/epoch-%03d.jsonl", epoch))
}

type item struct {
	index int
	b     contract.Batch
	err   error
}

// Run 逐轮执行 Reset → Next*，并将每个批交给 Consume、摘要写入 Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Stats, error) {
	var st Stats
	if err := sanity(comp, set); err != nil {
		return st, fmt.Errorf("loader: %w", err)
	}
	term := diag.GetTerminal()
	runStart := time.Now()
	term.RunStart(set.Epochs, set.Name)
	ok := false
	defer func() { term.RunFinish(ok, time.Since(runStart)) }()

	for e := 1; e <= set.Epochs; e++ {
		es, err := runEpoch(ctx, comp, set, e, logger)
		st.Epochs++
		st.Batches += es.Batches
		st.Examples += es.Examples
		st.Misses += es.Misses
		if err != nil {
			return st, err
		}
	}
	ok = true
	return st, nil
}

func sanity(comp Components, set Settings) error {
	if comp.Batcher == nil {
		return fmt.Errorf("nil batcher: %w", contract.ErrConfiguration)
	}
	if set.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0, got %d: %w", set.Epochs, contract.ErrConfiguration)
	}
	if set.Prefetch < 0 {
		return fmt.Errorf("prefetch must be >= 0, got %d: %w", set.Prefetch, contract.ErrConfiguration)
	}
	return nil
}

// logErr 记录错误事件并累加指标。
func logErr(logger *diag.Logger, comp, msg string, err error, t *diag.Timer, epoch, batch string) {
	code := diag.Classify(err)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	if logger != nil {
		logger.ErrorWithKV(comp, string(code), msg, t.Since(), epoch, batch, map[string]string{"err": err.Error()})
	}
}

func runEpoch(ctx context.Context, comp Components, set Settings, epoch int, logger *diag.Logger) (Stats, error) {
	var st Stats
	ep := strconv.Itoa(epoch)
	var etimer *diag.Timer
	if logger != nil {
		etimer = logger.StartWithKV("loader", "epoch", ep, "", map[string]string{"shuffle": strconv.FormatBool(set.Shuffle)})
	}
	if err := comp.Batcher.Reset(set.Shuffle); err != nil {
		logErr(logger, "batcher", "reset failed", err, etimer, ep, "")
		return st, fmt.Errorf("loader: epoch %d reset: %w", epoch, err)
	}
	total := comp.Batcher.NumBatches()

	term := diag.GetTerminal()
	term.EpochStart(epoch, total)
	epochStart := time.Now()
	ok := false
	defer func() { term.EpochFinish(ok, time.Since(epochStart)) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 生产者：独占批处理器
	ch := make(chan item, set.Prefetch)
	prodDone := make(chan struct{})
	go func() {
		defer close(prodDone)
		defer close(ch)
		for i := 0; comp.Batcher.HasNext(); i++ {
			b, err := comp.Batcher.Next()
			select {
			case ch <- item{index: i, b: b, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// JSONL 摘要：单次调用 Writer.Write，流式落盘
	var (
		pw    *io.PipeWriter
		enc   *json.Encoder
		wdone chan error
	)
	if comp.Writer != nil {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		wdone = make(chan error, 1)
		go func() {
			err := comp.Writer.Write(ctx, SummaryID(epoch), pr)
			// 写端提前失败时解除 Encode 的阻塞
			if err != nil {
				_ = pr.CloseWithError(err)
			} else {
				_ = pr.Close()
			}
			wdone <- err
		}()
		enc = json.NewEncoder(pw)
		enc.SetEscapeHTML(false)
	}

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	for it := range ch {
		if firstErr != nil {
			continue
		}
		bid := strconv.Itoa(it.index)
		if it.err != nil {
			logErr(logger, "batcher", "next failed", it.err, etimer, ep, bid)
			fail(fmt.Errorf("loader: epoch %d batch %d: %w", epoch, it.index, it.err))
			continue
		}
		diag.IncOp("batcher", "next", "success")
		st.Batches++
		st.Examples += it.b.Size()
		st.Misses += it.b.Misses()
		if logger != nil {
			logger.DebugStart("loader", "batch", ep, bid, map[string]string{"size": strconv.Itoa(it.b.Size())})
			if m := it.b.Misses(); m > 0 {
				logger.WarnKV("loader", "lookup misses clamped to 0", ep, bid, map[string]string{"misses": strconv.Itoa(m)})
			}
		}
		if enc != nil {
			sum := Summary{Epoch: epoch, Batch: it.index, Size: it.b.Size(), Misses: it.b.Misses(), Shapes: it.b.Shapes()}
			if err := enc.Encode(sum); err != nil {
				logErr(logger, "writer", "summary encode failed", err, etimer, ep, bid)
				fail(fmt.Errorf("loader: epoch %d summary: %w", epoch, err))
				continue
			}
		}
		if comp.Consume != nil {
			if err := comp.Consume(ctx, epoch, it.index, it.b); err != nil {
				logErr(logger, "consumer", "consume failed", err, etimer, ep, bid)
				fail(fmt.Errorf("loader: epoch %d batch %d consume: %w", epoch, it.index, err))
				continue
			}
		}
		term.EpochProgress(st.Batches, total, st.Misses)
	}
	<-prodDone

	// 生产者因外部取消提前退出
	if firstErr == nil {
		if err := ctx.Err(); err != nil {
			fail(fmt.Errorf("loader: epoch %d: %w", epoch, err))
		}
	}
	// 轮末断言
	if firstErr == nil && (comp.Batcher.HasNext() || comp.Batcher.State() != contract.StateExhausted || st.Batches != total) {
		err := fmt.Errorf("loader: epoch %d ended after %d/%d batches in state %s: %w",
			epoch, st.Batches, total, comp.Batcher.State(), contract.ErrInvalidInput)
		logErr(logger, "loader", "batcher not exhausted", err, etimer, ep, "")
		fail(err)
	}

	if pw != nil {
		if firstErr != nil {
			_ = pw.CloseWithError(firstErr)
		} else {
			_ = pw.Close()
		}
		if werr := <-wdone; werr != nil && firstErr == nil {
			logErr(logger, "writer", "write failed", werr, etimer, ep, "")
			return st, fmt.Errorf("loader: epoch %d write: %w", epoch, werr)
		}
	}
	if firstErr != nil {
		return st, firstErr
	}
	if etimer != nil {
		etimer.Finish("epoch", int64(st.Batches))
	}
	diag.IncOp("loader", "epoch", "success")
	ok = true
	return st, nil
}
