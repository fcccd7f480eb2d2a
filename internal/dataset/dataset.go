// Package dataset 将按列命名的原始记录转换为 contract.Row，供各数据集读取器共用。
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"lmcbatch/pkg/contract"
)

var known = map[contract.Column]bool{
	contract.ColRowIdx:        true,
	contract.ColSF:            true,
	contract.ColContext:       true,
	contract.ColTargetLFIdx:   true,
	contract.ColTargetLFSense: true,
	contract.ColSection:       true,
	contract.ColCategory:      true,
	contract.ColGlobalContext: true,
}

// Builder 按表头映射累积行。未知列忽略；必需列缺失在 NewBuilder 时报错。
type Builder struct {
	cols []contract.Column
	ds   contract.Dataset
}

// NewBuilder 解析表头（大小写与首尾空白不敏感）。
func NewBuilder(header []string) (*Builder, error) {
	b := &Builder{cols: make([]contract.Column, len(header)), ds: contract.Dataset{Columns: map[contract.Column]bool{}}}
	for i, h := range header {
		c := contract.Column(strings.ToLower(strings.TrimSpace(h)))
		if !known[c] {
			continue
		}
		if b.ds.Columns[c] {
			return nil, fmt.Errorf("%w: dataset: duplicate column %q", contract.ErrConfiguration, c)
		}
		b.cols[i] = c
		b.ds.Columns[c] = true
	}
	if miss := b.ds.Missing(contract.RequiredColumns...); len(miss) > 0 {
		return nil, fmt.Errorf("%w: dataset: missing required columns %v", contract.ErrConfiguration, miss)
	}
	return b, nil
}

// Add 追加一条记录；字段数必须与表头一致。row_idx 缺失时取记录序号。
func (b *Builder) Add(fields []string) error {
	n := len(b.ds.Rows)
	if len(fields) != len(b.cols) {
		return fmt.Errorf("%w: dataset: record %d has %d fields, header has %d", contract.ErrMalformedData, n, len(fields), len(b.cols))
	}
	r := contract.Row{RowIdx: n}
	for i, c := range b.cols {
		v := fields[i]
		switch c {
		case contract.ColRowIdx:
			idx, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: dataset: record %d row_idx %q", contract.ErrMalformedData, n, v)
			}
			r.RowIdx = idx
		case contract.ColSF:
			r.SF = strings.TrimSpace(v)
		case contract.ColContext:
			r.Context = contract.SplitTokens(v)
		case contract.ColTargetLFIdx:
			idx, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: dataset: record %d target_lf_idx %q", contract.ErrMalformedData, n, v)
			}
			r.TargetLFIdx = idx
		case contract.ColTargetLFSense:
			r.TargetLFSense = v
		case contract.ColSection:
			r.Section = v
		case contract.ColCategory:
			r.Category = v
		case contract.ColGlobalContext:
			r.GlobalContext = contract.SplitTokens(v)
		}
	}
	b.ds.Rows = append(b.ds.Rows, r)
	return nil
}

// Dataset 返回累积结果。
func (b *Builder) Dataset() contract.Dataset { return b.ds }
