// Package align 将每个样本变长的候选长形式（及其元信息分布）对齐到批内共享形状的张量。
package align

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"lmcbatch/internal/pack"
	"lmcbatch/pkg/contract"
)

// MaxLFTokens: 候选长形式的固定最大 token 数。超长属于数据完整性问题，不截断。
const MaxLFTokens = 5

// Distribution: 某个候选在元信息类别上的经验分布（id 与概率一一对应）。
type Distribution struct {
	IDs []int
	P   []float64
}

// Candidate: 单个候选长形式。Metadata 为 nil 表示无经验分布，回退为类别 0 上的点质量。
type Candidate struct {
	IDs      []int
	Metadata *Distribution
}

// Example: 单个样本的有序候选列表。
type Example struct {
	Candidates []Candidate
}

// Result: 一批对齐结果。所有张量第 0 维为批大小，填充为 0。
type Result struct {
	LFIDs         *tensor.Dense // [B, maxCand, MaxLFTokens] int
	LFTokenCounts *tensor.Dense // [B, maxCand] int
	Counts        []int         // 每个样本的真实候选数
	MaxCandidates int

	// 仅在请求元信息时填充。
	LFMetadataIDs *tensor.Dense // [B, maxCand, maxMeta] int
	LFMetadataP   *tensor.Dense // [B, maxCand, maxMeta] float64
	MaxMetadata   int
}

// Align 对齐一批样本。
// 约束：
//  1. maxCand 为批内最大候选数；样本自身候选数之外的槽位全为 0；
//  2. 候选为空、候选 token 为空或超过 MaxLFTokens 返回 ErrMalformedData；
//  3. withMetadata 时 maxMeta = max(1, 批内观测到的最大支持集)；缺分布的候选在类别 0 上置 1；
//  4. 分布在写入前归一化（和为 1）。
func Align(examples []Example, withMetadata bool) (Result, error) {
	var res Result
	b := len(examples)
	if b == 0 {
		return res, nil
	}
	res.Counts = make([]int, b)
	maxMeta := 0
	for i, ex := range examples {
		if len(ex.Candidates) == 0 {
			return Result{}, fmt.Errorf("%w: align: example %d has no candidates", contract.ErrMalformedData, i)
		}
		for j, c := range ex.Candidates {
			if err := checkTokens(len(c.IDs)); err != nil {
				return Result{}, fmt.Errorf("align: example %d candidate %d: %w", i, j, err)
			}
			if c.Metadata != nil {
				if len(c.Metadata.IDs) != len(c.Metadata.P) {
					return Result{}, fmt.Errorf("%w: align: example %d candidate %d metadata ids/p length mismatch", contract.ErrMalformedData, i, j)
				}
				if len(c.Metadata.P) > maxMeta {
					maxMeta = len(c.Metadata.P)
				}
			}
		}
		res.Counts[i] = len(ex.Candidates)
	}
	maxCand := pack.Max(res.Counts)
	res.MaxCandidates = maxCand

	lfIDs := make([]int, b*maxCand*MaxLFTokens)
	tokCt := make([]int, b*maxCand)
	for i, ex := range examples {
		for j, c := range ex.Candidates {
			slot := i*maxCand + j
			copy(lfIDs[slot*MaxLFTokens:(slot+1)*MaxLFTokens], c.IDs)
			tokCt[slot] = len(c.IDs)
		}
	}
	res.LFIDs = tensor.New(tensor.WithShape(b, maxCand, MaxLFTokens), tensor.WithBacking(lfIDs))
	res.LFTokenCounts = tensor.New(tensor.WithShape(b, maxCand), tensor.WithBacking(tokCt))
	if !withMetadata {
		return res, nil
	}

	if maxMeta < 1 {
		maxMeta = 1
	}
	res.MaxMetadata = maxMeta
	mIDs := make([]int, b*maxCand*maxMeta)
	mP := make([]float64, b*maxCand*maxMeta)
	for i, ex := range examples {
		for j, c := range ex.Candidates {
			off := (i*maxCand + j) * maxMeta
			if c.Metadata == nil || len(c.Metadata.P) == 0 {
				mP[off] = 1
				continue
			}
			copy(mIDs[off:off+maxMeta], c.Metadata.IDs)
			p := mP[off : off+len(c.Metadata.P)]
			copy(p, c.Metadata.P)
			if s := floats.Sum(p); s > 0 {
				floats.Scale(1/s, p)
			} else {
				// 全零分布视同缺失
				p[0] = 1
			}
		}
	}
	res.LFMetadataIDs = tensor.New(tensor.WithShape(b, maxCand, maxMeta), tensor.WithBacking(mIDs))
	res.LFMetadataP = tensor.New(tensor.WithShape(b, maxCand, maxMeta), tensor.WithBacking(mP))
	return res, nil
}

func checkTokens(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: candidate has no tokens", contract.ErrMalformedData)
	}
	if n > MaxLFTokens {
		return fmt.Errorf("%w: candidate has %d tokens, max %d", contract.ErrMalformedData, n, MaxLFTokens)
	}
	return nil
}

// Validate 在数据加载期对整个数据集做一次完整性校验（替代批内断言）。
// 检查：短形式有候选、候选 token 数在 [1, MaxLFTokens]、0 <= target_lf_idx < 候选数；
// needSenses 时还要求 sense 列表与候选列表等长。
func Validate(rows []contract.Row, inv contract.SenseInventory, needSenses bool) error {
	if inv == nil {
		return fmt.Errorf("%w: sense inventory is nil", contract.ErrConfiguration)
	}
	counts := make(map[string]int)
	for _, r := range rows {
		n, seen := counts[r.SF]
		if !seen {
			var err error
			n, err = checkShortForm(r.SF, inv, needSenses)
			if err != nil {
				return fmt.Errorf("row %d: %w", r.RowIdx, err)
			}
			counts[r.SF] = n
		}
		if r.TargetLFIdx < 0 || r.TargetLFIdx >= n {
			return fmt.Errorf("%w: row %d: target_lf_idx %d out of range [0,%d) for %q", contract.ErrMalformedData, r.RowIdx, r.TargetLFIdx, n, r.SF)
		}
	}
	return nil
}

func checkShortForm(sf string, inv contract.SenseInventory, needSenses bool) (int, error) {
	cands, ok := inv.Candidates(sf)
	if !ok || len(cands) == 0 {
		return 0, fmt.Errorf("%w: short form %q has no candidates", contract.ErrMalformedData, sf)
	}
	for j, toks := range cands {
		if err := checkTokens(len(toks)); err != nil {
			return 0, fmt.Errorf("short form %q candidate %d: %w", sf, j, err)
		}
	}
	if needSenses {
		senses, ok := inv.Senses(sf)
		if !ok || len(senses) != len(cands) {
			return 0, fmt.Errorf("%w: short form %q has %d senses for %d candidates", contract.ErrMalformedData, sf, len(senses), len(cands))
		}
	}
	return len(cands), nil
}
