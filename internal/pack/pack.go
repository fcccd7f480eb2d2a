// Package pack 将变长序列打包为零填充的稠密张量。
package pack

import (
	"fmt"

	"gorgonia.org/tensor"

	"lmcbatch/pkg/contract"
)

// Ints 将变长 id 序列左对齐写入零填充矩阵 [len(seqs), maxLen]，并返回每行真实长度。
// 约束：
//  1. maxLen 为批内最大长度（不是全局最大）；全部为空时取 1，避免零尺寸张量；
//  2. 不做截断；超长校验由调用方负责；
//  3. len(seqs)==0 返回 (nil, nil)。
func Ints(seqs [][]int) (*tensor.Dense, []int) {
	if len(seqs) == 0 {
		return nil, nil
	}
	lens := Lengths(seqs)
	width := atLeastOne(Max(lens))
	buf := make([]int, len(seqs)*width)
	for i, s := range seqs {
		copy(buf[i*width:(i+1)*width], s)
	}
	return tensor.New(tensor.WithShape(len(seqs), width), tensor.WithBacking(buf)), lens
}

// Vectors 打包预先嵌入的向量序列，形状 [len(seqs), maxLen, dim]。
// 每个向量长度必须等于 dim，否则返回 ErrInvalidInput。
func Vectors(seqs [][][]float64, dim int) (*tensor.Dense, []int, error) {
	if dim <= 0 {
		return nil, nil, fmt.Errorf("%w: pack: dim must be > 0, got %d", contract.ErrInvalidInput, dim)
	}
	if len(seqs) == 0 {
		return nil, nil, nil
	}
	lens := make([]int, len(seqs))
	for i, s := range seqs {
		lens[i] = len(s)
	}
	width := atLeastOne(Max(lens))
	buf := make([]float64, len(seqs)*width*dim)
	for i, s := range seqs {
		for j, vec := range s {
			if len(vec) != dim {
				return nil, nil, fmt.Errorf("%w: pack: row %d token %d has dim %d, want %d", contract.ErrInvalidInput, i, j, len(vec), dim)
			}
			off := (i*width + j) * dim
			copy(buf[off:off+dim], vec)
		}
	}
	return tensor.New(tensor.WithShape(len(seqs), width, dim), tensor.WithBacking(buf)), lens, nil
}

// Lengths 返回每个序列的长度。
func Lengths(seqs [][]int) []int {
	out := make([]int, len(seqs))
	for i, s := range seqs {
		out[i] = len(s)
	}
	return out
}

// Max 返回切片最大值；空切片返回 0。
func Max(xs []int) int {
	m := 0
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Column 将一维 int 切片包装为形状 [len(xs)] 的张量（共享底层数组）。
func Column(xs []int) *tensor.Dense {
	if len(xs) == 0 {
		return nil
	}
	return tensor.New(tensor.WithShape(len(xs)), tensor.WithBacking(xs))
}

// Describe 返回张量的形状摘要；nil 张量的 Dims 为空。
func Describe(field string, d *tensor.Dense) contract.Shape {
	s := contract.Shape{Field: field}
	if d != nil {
		s.Dims = append([]int(nil), d.Shape()...)
	}
	return s
}
