// Package skipgram 实现扁平语料上的 LMC 上下文 skip-gram 批处理器。
package skipgram

import (
	"fmt"

	"gorgonia.org/tensor"

	"lmcbatch/internal/epoch"
	"lmcbatch/internal/pack"
	"lmcbatch/internal/window"
	"lmcbatch/pkg/contract"
)

// Options: 批处理器选项（registry 以严格 JSON 解码）。
type Options struct {
	BatchSize int `json:"batch_size"`
	// Window: 中心词左右各取的最大上下文数，必须 > 0。
	Window        int    `json:"window"`
	KeepRemainder bool   `json:"keep_remainder"`
	Seed          uint64 `json:"seed"`
}

// Batch: 一批 skip-gram 样本。ContextIDs 与 NegIDs 共享批内宽度 max(WindowSizes)。
type Batch struct {
	CenterIDs         *tensor.Dense // [B]
	CenterMetadataIDs *tensor.Dense // [B]
	ContextIDs        *tensor.Dense // [B, width]
	NegIDs            *tensor.Dense // [B, width]
	WindowSizes       []int
}

// Size 返回批大小。
func (b *Batch) Size() int { return len(b.WindowSizes) }

// Misses 恒为 0：语料 id 在预处理阶段已钳制。
func (b *Batch) Misses() int { return 0 }

// Shapes 按字段顺序返回形状摘要。
func (b *Batch) Shapes() []contract.Shape {
	return []contract.Shape{
		pack.Describe("center_ids", b.CenterIDs),
		pack.Describe("center_metadata_ids", b.CenterMetadataIDs),
		pack.Describe("context_ids", b.ContextIDs),
		pack.Describe("neg_ids", b.NegIDs),
	}
}

// Batcher 在所有非边界位置上切分批次。
type Batcher struct {
	corpus  contract.Corpus
	vocab   contract.Vocabulary
	window  int
	centers []int
	part    *epoch.Partitioner
}

// New 创建批处理器。边界位置（window.Boundary）不作为中心词。
func New(c contract.Corpus, v contract.Vocabulary, opts Options) (*Batcher, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: skipgram: vocab is required", contract.ErrConfiguration)
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("%w: skipgram: window must be > 0, got %d", contract.ErrConfiguration, opts.Window)
	}
	if c.MetadataIDs != nil && len(c.MetadataIDs) != len(c.IDs) {
		return nil, fmt.Errorf("%w: skipgram: %d metadata ids for %d ids", contract.ErrMalformedData, len(c.MetadataIDs), len(c.IDs))
	}
	centers := window.Centers(c.IDs)
	part, err := epoch.New(len(centers), epoch.Options{BatchSize: opts.BatchSize, KeepRemainder: opts.KeepRemainder, Seed: opts.Seed})
	if err != nil {
		return nil, fmt.Errorf("skipgram: %w", err)
	}
	return &Batcher{corpus: c, vocab: v, window: opts.Window, centers: centers, part: part}, nil
}

// Reset 可选打乱后重新切分。
func (b *Batcher) Reset(shuffle bool) error { return b.part.Reset(shuffle) }

// NumBatches 返回本轮批数。
func (b *Batcher) NumBatches() int { return b.part.NumBatches() }

// HasNext 报告是否还有批。
func (b *Batcher) HasNext() bool { return b.part.HasNext() }

// State 返回状态机当前状态。
func (b *Batcher) State() contract.State { return b.part.State() }

// Next 实现 contract.Batcher。
func (b *Batcher) Next() (contract.Batch, error) {
	bt, err := b.NextBatch()
	if err != nil {
		return nil, err
	}
	return bt, nil
}

// PrevBatch 返回最近一次消费批的中心词在语料中的位置。
func (b *Batcher) PrevBatch() ([]int, error) {
	idx, err := b.part.Prev()
	if err != nil {
		return nil, err
	}
	return b.positions(idx), nil
}

func (b *Batcher) positions(idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = b.centers[j]
	}
	return out
}

// NextBatch 组装当前游标处的批并前移游标。
func (b *Batcher) NextBatch() (*Batch, error) {
	idx, err := b.part.Advance()
	if err != nil {
		return nil, err
	}
	pos := b.positions(idx)
	n := len(pos)
	centerIDs := make([]int, n)
	metaIDs := make([]int, n)
	ctx := make([][]int, n)
	for i, p := range pos {
		centerIDs[i] = b.corpus.IDs[p]
		if b.corpus.MetadataIDs != nil {
			metaIDs[i] = b.corpus.MetadataIDs[p]
		}
		ctx[i] = window.Extract(b.corpus.IDs, p, b.window)
	}
	out := &Batch{CenterIDs: pack.Column(centerIDs), CenterMetadataIDs: pack.Column(metaIDs)}
	out.ContextIDs, out.WindowSizes = pack.Ints(ctx)
	width := out.ContextIDs.Shape()[1]
	neg := b.vocab.NegSample(n, width)
	if len(neg) != n*width {
		return nil, fmt.Errorf("%w: skipgram: vocab returned %d negative samples, want %d", contract.ErrInvalidInput, len(neg), n*width)
	}
	out.NegIDs = tensor.New(tensor.WithShape(n, width), tensor.WithBacking(neg))
	return out, nil
}

var _ contract.Batcher = (*Batcher)(nil)
