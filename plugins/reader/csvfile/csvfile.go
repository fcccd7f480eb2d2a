// Package csvfile 读取 CSV/TSV 格式的缩写样本数据集（首行为表头）。
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lmcbatch/internal/dataset"
	"lmcbatch/pkg/contract"
)

// Options: 读取选项。
type Options struct {
	// Comma: 单字符分隔符；为空时按扩展名推断（.tsv 为制表符，其余为逗号）。
	Comma string `json:"comma"`
	// LazyQuotes: 容忍不规范引号（上游导出的上下文列常含裸引号）。
	LazyQuotes bool `json:"lazy_quotes"`
}

// Reader 实现 contract.DatasetReader。
type Reader struct {
	comma rune
	lazy  bool
}

// New 创建读取器。
func New(opts *Options) (*Reader, error) {
	r := &Reader{}
	if opts == nil {
		return r, nil
	}
	if opts.Comma != "" {
		rs := []rune(opts.Comma)
		if len(rs) != 1 || rs[0] == '"' || rs[0] == '\n' || rs[0] == '\r' {
			return nil, fmt.Errorf("%w: csv: invalid comma %q", contract.ErrConfiguration, opts.Comma)
		}
		r.comma = rs[0]
	}
	r.lazy = opts.LazyQuotes
	return r, nil
}

var _ contract.DatasetReader = (*Reader)(nil)

// Read 逐行读取 source，必需列缺失返回 ErrConfiguration，格式错误返回 ErrMalformedData。
func (r *Reader) Read(ctx context.Context, source string) (contract.Dataset, error) {
	f, err := os.Open(source)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("csv: open %s: %w", filepath.Base(source), err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.Comma = r.commaFor(source)
	cr.LazyQuotes = r.lazy
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return contract.Dataset{}, fmt.Errorf("%w: csv: %s is empty", contract.ErrConfiguration, filepath.Base(source))
	}
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: csv: header: %v", contract.ErrMalformedData, err)
	}
	b, err := dataset.NewBuilder(append([]string(nil), header...))
	if err != nil {
		return contract.Dataset{}, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return contract.Dataset{}, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return contract.Dataset{}, fmt.Errorf("%w: csv: %v", contract.ErrMalformedData, err)
		}
		if err := b.Add(rec); err != nil {
			return contract.Dataset{}, err
		}
	}
	return b.Dataset(), nil
}

func (r *Reader) commaFor(source string) rune {
	if r.comma != 0 {
		return r.comma
	}
	if strings.EqualFold(filepath.Ext(source), ".tsv") {
		return '\t'
	}
	return ','
}
