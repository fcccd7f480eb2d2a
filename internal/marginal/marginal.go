// Package marginal 计算并加载 LF 义项上的经验元信息分布 p(metadata | LF)。
package marginal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"

	"lmcbatch/pkg/contract"
)

// Table 实现 contract.MetadataMarginals。
type Table map[string]contract.Marginal

// Lookup 返回义项的经验分布。
func (t Table) Lookup(sense string) (contract.Marginal, bool) {
	m, ok := t[sense]
	return m, ok
}

// Compute 按 target_lf_sense 分组统计 col 列（section/category）的频次并归一化。
// 每个义项内按频次降序、同频按名称升序排列；空元信息标签跳过。
func Compute(rows []contract.Row, col contract.Column) (Table, error) {
	if col != contract.ColSection && col != contract.ColCategory {
		return nil, fmt.Errorf("%w: marginal: unsupported metadata column %q", contract.ErrConfiguration, col)
	}
	freqs := make(map[string]map[string]int)
	for _, r := range rows {
		if r.TargetLFSense == "" {
			continue
		}
		meta := r.Metadata(col)
		if meta == "" {
			continue
		}
		m := freqs[r.TargetLFSense]
		if m == nil {
			m = make(map[string]int)
			freqs[r.TargetLFSense] = m
		}
		m[meta]++
	}
	out := make(Table, len(freqs))
	for sense, m := range freqs {
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Slice(names, func(i, j int) bool {
			if m[names[i]] != m[names[j]] {
				return m[names[i]] > m[names[j]]
			}
			return names[i] < names[j]
		})
		mg := contract.Marginal{Metadata: names, Count: make([]int, len(names)), P: make([]float64, len(names))}
		for i, k := range names {
			mg.Count[i] = m[k]
			mg.P[i] = float64(m[k])
		}
		floats.Scale(1/floats.Sum(mg.P), mg.P)
		out[sense] = mg
	}
	return out, nil
}

// Marshal 以稳定的键顺序编码为 JSON。
func Marshal(t Table) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Load 读取 JSON 分布文件并校验每项 metadata/p 等长且概率非负。
func Load(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("marginal: read %s: %w", path, err)
	}
	var t Table
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: marginal: decode %s: %v", contract.ErrConfiguration, path, err)
	}
	for sense, m := range t {
		if len(m.Metadata) != len(m.P) {
			return nil, fmt.Errorf("%w: marginal: %q has %d labels for %d probabilities", contract.ErrMalformedData, sense, len(m.Metadata), len(m.P))
		}
		if len(m.P) > 0 && floats.Min(m.P) < 0 {
			return nil, fmt.Errorf("%w: marginal: %q has negative probability", contract.ErrMalformedData, sense)
		}
	}
	return t, nil
}

var _ contract.MetadataMarginals = Table(nil)
