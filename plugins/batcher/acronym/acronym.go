// Package acronym 实现表格样本上的缩写消歧批处理器。
package acronym

import (
	"fmt"

	"gorgonia.org/tensor"

	"lmcbatch/internal/align"
	"lmcbatch/internal/epoch"
	"lmcbatch/internal/pack"
	"lmcbatch/pkg/contract"
)

// Options: 批处理器选项（registry 以严格 JSON 解码）。
type Options struct {
	BatchSize int `json:"batch_size"`
	// MetadataColumn: 启用的元信息列（"section" / "category"）；空表示不填 MetadataIDs。
	MetadataColumn contract.Column `json:"metadata_column"`
	// UseMarginals: 为每个候选填充 p(metadata | LF)；需要 Marginals 资源与义项标签。
	UseMarginals bool `json:"use_marginals"`
	// GlobalContext: 额外打包 tokenized_context 列（整篇文档上下文）。
	GlobalContext bool `json:"global_context"`
	// KeepRemainder: 尾部余数作为最后一个较小批发出；默认丢弃。
	KeepRemainder bool   `json:"keep_remainder"`
	Seed          uint64 `json:"seed"`
}

// Resources: 只读协作方。MetadataVocab 为空时元信息查找退回 Vocab。
type Resources struct {
	Vocab         contract.Vocabulary
	MetadataVocab contract.Vocabulary
	Inventory     contract.SenseInventory
	Marginals     contract.MetadataMarginals
}

// Batch: 一批对齐后的张量，字段顺序与下游模型约定一致。
// 张量均为 int，LFMetadataP 为 float64；第 0 维均为批大小。
type Batch struct {
	SFIDs         *tensor.Dense // [B]
	MetadataIDs   *tensor.Dense // [B]
	ContextIDs    *tensor.Dense // [B, maxCtx]
	LFIDs         *tensor.Dense // [B, maxCand, align.MaxLFTokens]
	TargetLFIDs   *tensor.Dense // [B]
	LFTokenCounts *tensor.Dense // [B, maxCand]
	LFMetadataIDs *tensor.Dense // [B, maxCand, maxMeta]
	LFMetadataP   *tensor.Dense // [B, maxCand, maxMeta]

	NumOutputs  []int // 每个样本的真实候选数
	NumContexts []int // 每个样本的真实上下文长度

	// 仅 GlobalContext 启用时非空。
	GlobalContextIDs  *tensor.Dense // [B, maxGlobal]
	NumGlobalContexts []int

	misses int
}

// Size 返回批大小。
func (b *Batch) Size() int { return len(b.NumOutputs) }

// Misses 返回被钳制为 0 的查找次数。
func (b *Batch) Misses() int { return b.misses }

// Shapes 按字段顺序返回形状摘要。
func (b *Batch) Shapes() []contract.Shape {
	out := []contract.Shape{
		pack.Describe("sf_ids", b.SFIDs),
		pack.Describe("metadata_ids", b.MetadataIDs),
		pack.Describe("context_ids", b.ContextIDs),
		pack.Describe("lf_ids", b.LFIDs),
		pack.Describe("target_lf_ids", b.TargetLFIDs),
		pack.Describe("lf_token_ct", b.LFTokenCounts),
		pack.Describe("lf_metadata_ids", b.LFMetadataIDs),
		pack.Describe("lf_metadata_p", b.LFMetadataP),
	}
	if b.GlobalContextIDs != nil {
		out = append(out, pack.Describe("global_context_ids", b.GlobalContextIDs))
	}
	return out
}

// Batcher 持有 {数据集, 切分状态}；同一数据集可构造多个互不干扰的实例。
type Batcher struct {
	rows []contract.Row
	res  Resources
	opts Options
	part *epoch.Partitioner
	mvoc contract.Vocabulary
}

// New 在构造期一次性校验可选列与义项清单，之后批内不再做断言。
func New(ds contract.Dataset, res Resources, opts Options) (*Batcher, error) {
	if res.Vocab == nil || res.Inventory == nil {
		return nil, fmt.Errorf("%w: acronym: vocab and inventory are required", contract.ErrConfiguration)
	}
	if miss := ds.Missing(contract.RequiredColumns...); len(miss) > 0 {
		return nil, fmt.Errorf("%w: acronym: dataset missing columns %v", contract.ErrConfiguration, miss)
	}
	switch opts.MetadataColumn {
	case "":
	case contract.ColSection, contract.ColCategory:
		if !ds.Has(opts.MetadataColumn) {
			return nil, fmt.Errorf("%w: acronym: metadata column %q not in dataset", contract.ErrConfiguration, opts.MetadataColumn)
		}
	default:
		return nil, fmt.Errorf("%w: acronym: unsupported metadata column %q", contract.ErrConfiguration, opts.MetadataColumn)
	}
	if opts.GlobalContext && !ds.Has(contract.ColGlobalContext) {
		return nil, fmt.Errorf("%w: acronym: global context enabled but %q not in dataset", contract.ErrConfiguration, contract.ColGlobalContext)
	}
	if opts.UseMarginals && res.Marginals == nil {
		return nil, fmt.Errorf("%w: acronym: use_marginals requires metadata marginals", contract.ErrConfiguration)
	}
	if err := align.Validate(ds.Rows, res.Inventory, opts.UseMarginals); err != nil {
		return nil, fmt.Errorf("acronym: %w", err)
	}
	part, err := epoch.New(len(ds.Rows), epoch.Options{BatchSize: opts.BatchSize, KeepRemainder: opts.KeepRemainder, Seed: opts.Seed})
	if err != nil {
		return nil, fmt.Errorf("acronym: %w", err)
	}
	mvoc := res.MetadataVocab
	if mvoc == nil {
		mvoc = res.Vocab
	}
	return &Batcher{rows: ds.Rows, res: res, opts: opts, part: part, mvoc: mvoc}, nil
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

// PrevBatch 返回最近一次消费的原始样本（用于误差分析回溯源行）。
func (b *Batcher) PrevBatch() ([]contract.Row, error) {
	idx, err := b.part.Prev()
	if err != nil {
		return nil, err
	}
	return b.pick(idx), nil
}

func (b *Batcher) pick(idx []int) []contract.Row {
	out := make([]contract.Row, len(idx))
	for i, j := range idx {
		out[i] = b.rows[j]
	}
	return out
}

// NextBatch 组装当前游标处的批并前移游标。
func (b *Batcher) NextBatch() (*Batch, error) {
	idx, err := b.part.Advance()
	if err != nil {
		return nil, err
	}
	return b.assemble(b.pick(idx))
}

func (b *Batcher) assemble(rows []contract.Row) (*Batch, error) {
	n := len(rows)
	out := &Batch{}
	sfIDs := make([]int, n)
	metaIDs := make([]int, n)
	targets := make([]int, n)
	ctx := make([][]int, n)
	var global [][]int
	if b.opts.GlobalContext {
		global = make([][]int, n)
	}
	exs := make([]align.Example, n)
	for i, r := range rows {
		sfIDs[i] = out.clamp(b.res.Vocab.ID(r.SF))
		targets[i] = r.TargetLFIdx
		ctx[i] = out.clampAll(b.res.Vocab.IDs(r.Context))
		if global != nil {
			global[i] = out.clampAll(b.res.Vocab.IDs(r.GlobalContext))
		}
		if b.opts.MetadataColumn != "" {
			metaIDs[i] = out.clamp(b.mvoc.ID(r.Metadata(b.opts.MetadataColumn)))
		}
		ex, err := b.example(r.SF, out)
		if err != nil {
			return nil, err
		}
		exs[i] = ex
	}

	al, err := align.Align(exs, b.opts.UseMarginals)
	if err != nil {
		return nil, fmt.Errorf("acronym: %w", err)
	}
	out.SFIDs = pack.Column(sfIDs)
	out.MetadataIDs = pack.Column(metaIDs)
	out.ContextIDs, out.NumContexts = pack.Ints(ctx)
	out.LFIDs = al.LFIDs
	out.TargetLFIDs = pack.Column(targets)
	out.LFTokenCounts = al.LFTokenCounts
	out.NumOutputs = al.Counts
	if b.opts.UseMarginals {
		out.LFMetadataIDs, out.LFMetadataP = al.LFMetadataIDs, al.LFMetadataP
	} else {
		// 未启用分布时仍返回 [B, maxCand, 1] 的全零张量，保持输出元组形状稳定。
		out.LFMetadataIDs = tensor.New(tensor.WithShape(n, al.MaxCandidates, 1), tensor.WithBacking(make([]int, n*al.MaxCandidates)))
		out.LFMetadataP = tensor.New(tensor.WithShape(n, al.MaxCandidates, 1), tensor.WithBacking(make([]float64, n*al.MaxCandidates)))
	}
	if global != nil {
		out.GlobalContextIDs, out.NumGlobalContexts = pack.Ints(global)
	}
	return out, nil
}

// example 将 SF 的候选转为 id，并按需附上经验元信息分布（缺失时留空，由 align 回退为点质量）。
func (b *Batcher) example(sf string, out *Batch) (align.Example, error) {
	cands, ok := b.res.Inventory.Candidates(sf)
	if !ok {
		return align.Example{}, fmt.Errorf("%w: acronym: short form %q not in inventory", contract.ErrMalformedData, sf)
	}
	var senses []string
	if b.opts.UseMarginals {
		senses, _ = b.res.Inventory.Senses(sf)
	}
	ex := align.Example{Candidates: make([]align.Candidate, len(cands))}
	for j, toks := range cands {
		c := align.Candidate{IDs: out.clampAll(b.res.Vocab.IDs(toks))}
		if j < len(senses) {
			if m, ok := b.res.Marginals.Lookup(senses[j]); ok && len(m.P) > 0 {
				c.Metadata = &align.Distribution{IDs: out.clampAll(b.mvoc.IDs(m.Metadata)), P: append([]float64(nil), m.P...)}
			}
		}
		ex.Candidates[j] = c
	}
	return ex, nil
}

func (b *Batch) clamp(id int) int {
	if id < 0 {
		b.misses++
		return 0
	}
	return id
}

// clampAll 返回钳制后的新切片；Vocabulary.IDs 的返回值可能被实现方缓存复用，不原地改写。
func (b *Batch) clampAll(ids []int) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = b.clamp(id)
	}
	return out
}

var _ contract.Batcher = (*Batcher)(nil)
