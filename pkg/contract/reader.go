package contract

import (
	"context"
	"io"
)

// DatasetReader: 表格数据集来源（CSV/SQLite 等）。
// 约束：
//  1. 一次性读入内存并返回实际存在的列集合；
//  2. 必需列缺失返回 ErrConfiguration；
//  3. 不做业务清洗，仅做类型转换与空白切分。
type DatasetReader interface {
	Read(ctx context.Context, source string) (Dataset, error)
}

// DocumentReader: 语料文档来源（文件/目录/STDIN）。
// 约束：
// 1) 流式读取，按文件维度回调；
// 2) DocID 稳定且去平台差异化；
// 3) 不做解码/业务解析，仅提供字节流；
// 4) 不在内部起并发。
type DocumentReader interface {
	Iterate(ctx context.Context, roots []string, yield func(id DocID, r io.ReadCloser) error) error
}
