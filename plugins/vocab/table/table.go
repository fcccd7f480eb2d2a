// Package table 提供基于 JSON 词表文件的 Vocabulary 参考实现。
// id 分配策略由外部决定：文件中 tokens[i] 的 id 即 i。
package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"

	"lmcbatch/pkg/contract"
)

// negPower: 负采样分布 ∝ count^0.75。
const negPower = 0.75

// File: 词表文件格式。
type File struct {
	Tokens []string `json:"tokens"`
	// Counts: 与 Tokens 等长的语料频次；为空时负采样退化为均匀分布。
	Counts []int `json:"counts,omitempty"`
	// MetadataStart: >0 时 id >= MetadataStart 的条目为元信息标记（section/category），不参与负采样。
	MetadataStart int `json:"metadata_start,omitempty"`
}

// Options: 插件选项。
type Options struct {
	// Path: 词表 JSON 路径。
	Path string `json:"path"`
	// Seed: 负采样随机种子；0 表示以当前时间播种。
	Seed uint64 `json:"seed"`
}

// Table 实现 contract.Vocabulary。查找前做 NFKC + 小写规范化。
// ID/IDs 并发安全；NegSample 内部以互斥锁保护随机源。
type Table struct {
	tokens    []string
	index     map[string]int
	metaStart int

	mu  sync.Mutex
	rng *rand.Rand
	cum []float64 // 负采样累计权重，cum[i] 对应 id i
}

// Load 读取并严格解析词表文件。
func Load(opts Options) (*Table, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: vocab: path is required", contract.ErrConfiguration)
	}
	b, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", opts.Path, err)
	}
	var f File
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: vocab: decode %s: %v", contract.ErrConfiguration, opts.Path, err)
	}
	return New(f, opts.Seed)
}

// New 由内存中的词表构建 Table。
func New(f File, seed uint64) (*Table, error) {
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("%w: vocab: empty token list", contract.ErrConfiguration)
	}
	if len(f.Counts) != 0 && len(f.Counts) != len(f.Tokens) {
		return nil, fmt.Errorf("%w: vocab: %d counts for %d tokens", contract.ErrConfiguration, len(f.Counts), len(f.Tokens))
	}
	if f.MetadataStart < 0 || f.MetadataStart > len(f.Tokens) {
		return nil, fmt.Errorf("%w: vocab: metadata_start %d out of range", contract.ErrConfiguration, f.MetadataStart)
	}
	t := &Table{
		tokens:    append([]string(nil), f.Tokens...),
		index:     make(map[string]int, len(f.Tokens)),
		metaStart: f.MetadataStart,
	}
	for i, tok := range f.Tokens {
		k := normalize(tok)
		if _, dup := t.index[k]; !dup {
			t.index[k] = i
		}
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	t.rng = rand.New(rand.NewSource(seed))
	t.cum = negTable(f.Counts, len(f.Tokens), t.limit())
	return t, nil
}

// normalize: NFKC 兼容分解合成后转小写，使全角/兼容字符与大小写差异落到同一 id。
func normalize(tok string) string {
	return strings.ToLower(norm.NFKC.String(tok))
}

// negTable 构建累计权重：id 0（保留/填充）与 id >= limit 权重为 0。
func negTable(counts []int, size, limit int) []float64 {
	w := make([]float64, size)
	for i := 1; i < limit; i++ {
		if len(counts) == 0 {
			w[i] = 1
			continue
		}
		if counts[i] > 0 {
			w[i] = math.Pow(float64(counts[i]), negPower)
		}
	}
	if floats.Sum(w) == 0 {
		// 没有可用频次：退化为 [1,limit) 上的均匀分布
		for i := 1; i < limit; i++ {
			w[i] = 1
		}
	}
	return floats.CumSum(make([]float64, size), w)
}

func (t *Table) limit() int {
	if t.metaStart > 0 {
		return t.metaStart
	}
	return len(t.tokens)
}

// ID 返回 token 的 id；未知返回 -1（调用方钳制为 0）。
func (t *Table) ID(token string) int {
	if id, ok := t.index[normalize(token)]; ok {
		return id
	}
	return -1
}

// IDs 逐个查找，保持长度与顺序。
func (t *Table) IDs(tokens []string) []int {
	out := make([]int, len(tokens))
	for i, tok := range tokens {
		out[i] = t.ID(tok)
	}
	return out
}

// Token 返回 id 对应的原始 token；越界返回空串。
func (t *Table) Token(id int) string {
	if id < 0 || id >= len(t.tokens) {
		return ""
	}
	return t.tokens[id]
}

// Size 返回词表大小（含元信息标记）。
func (t *Table) Size() int { return len(t.tokens) }

// MetadataStart 返回首个元信息 id；0 表示无元信息标记。
func (t *Table) MetadataStart() int { return t.metaStart }

// IsMetadata 报告 id 是否为元信息标记。
func (t *Table) IsMetadata(id int) bool { return t.metaStart > 0 && id >= t.metaStart && id < len(t.tokens) }

// NegSample 按 count^0.75 分布抽取 prod(shape) 个负样本，按行主序展平返回。
// shape 为空或含非正维时返回 nil。
func (t *Table) NegSample(shape ...int) []int {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil
		}
		n *= d
	}
	if len(shape) == 0 {
		return nil
	}
	out := make([]int, n)
	total := t.cum[len(t.cum)-1]
	t.mu.Lock()
	for i := range out {
		// (0, total]，避免落在零权重前缀上
		u := (1 - t.rng.Float64()) * total
		out[i] = sort.SearchFloat64s(t.cum, u)
	}
	t.mu.Unlock()
	return out
}

var _ contract.Vocabulary = (*Table)(nil)
