// Package corpus 将分词后的文档转为扁平 id 语料（带边界哨兵），并提供二进制存取。
package corpus

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"lmcbatch/internal/window"
	"lmcbatch/pkg/contract"
)

// Builder 逐文档累积 id。
// 规则：
//  1. 文档之间插入 window.Boundary；
//  2. 未知 token 钳制为 0 并计入 Misses；
//  3. metaStart > 0 时 id >= metaStart 的 token 为元信息标记：该位置替换为 Boundary，
//     并成为其后位置的当前元信息 id（直到下一个标记或文档结束）。
type Builder struct {
	vocab     contract.Vocabulary
	metaStart int
	ids       []int
	meta      []int
	docs      int
	misses    int
}

// NewBuilder 创建 Builder；metaStart<=0 表示不识别元信息标记。
func NewBuilder(v contract.Vocabulary, metaStart int) *Builder {
	return &Builder{vocab: v, metaStart: metaStart}
}

// Add 追加一篇文档。空文档被忽略（不产生多余边界）。
func (b *Builder) Add(tokens []string) {
	if len(tokens) == 0 {
		return
	}
	if b.docs > 0 {
		b.ids = append(b.ids, window.Boundary)
		b.meta = append(b.meta, 0)
	}
	b.docs++
	cur := 0
	for _, id := range b.vocab.IDs(tokens) {
		switch {
		case id < 0:
			b.misses++
			id = 0
		case b.metaStart > 0 && id >= b.metaStart:
			cur = id
			id = window.Boundary
		}
		b.ids = append(b.ids, id)
		b.meta = append(b.meta, cur)
	}
}

// Docs 返回已加入的非空文档数。
func (b *Builder) Docs() int { return b.docs }

// Misses 返回被钳制为 0 的未知 token 数。
func (b *Builder) Misses() int { return b.misses }

// Corpus 返回构建结果；未启用元信息时 MetadataIDs 为 nil。
func (b *Builder) Corpus() contract.Corpus {
	c := contract.Corpus{IDs: b.ids}
	if b.metaStart > 0 {
		c.MetadataIDs = b.meta
	}
	return c
}

// Build 遍历文档来源，按空白分词后加入 Builder。
func Build(ctx context.Context, r contract.DocumentReader, roots []string, b *Builder) error {
	return r.Iterate(ctx, roots, func(id contract.DocID, rc io.ReadCloser) error {
		defer rc.Close()
		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		sc.Split(bufio.ScanWords)
		var toks []string
		for sc.Scan() {
			toks = append(toks, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("corpus: scan %s: %w", id, err)
		}
		b.Add(toks)
		return nil
	})
}

var magic = [4]byte{'L', 'M', 'C', 'B'}

const (
	version uint32 = 1
	maxLen         = 1 << 31
)

// header: 魔数 + 版本 + 长度 + 是否带元信息。
type header struct {
	Magic   [4]byte
	Version uint32
	N       uint64
	HasMeta uint8
}

// Encode 以小端 int32 写出语料：header, IDs[N], (MetadataIDs[N])。
func Encode(w io.Writer, c contract.Corpus) error {
	if c.MetadataIDs != nil && len(c.MetadataIDs) != len(c.IDs) {
		return fmt.Errorf("%w: corpus: %d metadata ids for %d ids", contract.ErrInvalidInput, len(c.MetadataIDs), len(c.IDs))
	}
	bw := bufio.NewWriter(w)
	h := header{Magic: magic, Version: version, N: uint64(len(c.IDs))}
	if c.MetadataIDs != nil {
		h.HasMeta = 1
	}
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, toInt32(c.IDs)); err != nil {
		return err
	}
	if h.HasMeta == 1 {
		if err := binary.Write(bw, binary.LittleEndian, toInt32(c.MetadataIDs)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode 读取 Encode 写出的语料。
func Decode(r io.Reader) (contract.Corpus, error) {
	br := bufio.NewReader(r)
	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return contract.Corpus{}, fmt.Errorf("%w: corpus: header: %v", contract.ErrMalformedData, err)
	}
	if h.Magic != magic || h.Version != version {
		return contract.Corpus{}, fmt.Errorf("%w: corpus: bad magic/version", contract.ErrMalformedData)
	}
	if h.N > maxLen {
		return contract.Corpus{}, fmt.Errorf("%w: corpus: length %d exceeds limit", contract.ErrMalformedData, h.N)
	}
	ids, err := readInts(br, h.N)
	if err != nil {
		return contract.Corpus{}, err
	}
	c := contract.Corpus{IDs: ids}
	if h.HasMeta == 1 {
		if c.MetadataIDs, err = readInts(br, h.N); err != nil {
			return contract.Corpus{}, err
		}
	}
	return c, nil
}

// readChunk: 单次解码的 int32 个数上限；长度字段不可信，内存随实际读到的数据增长。
const readChunk = 1 << 16

func readInts(r io.Reader, n uint64) ([]int, error) {
	out := make([]int, 0, min(n, readChunk))
	buf := make([]int32, min(n, readChunk))
	for left := n; left > 0; {
		chunk := buf[:min(left, readChunk)]
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: corpus: truncated body", contract.ErrMalformedData)
			}
			return nil, err
		}
		for _, v := range chunk {
			out = append(out, int(v))
		}
		left -= uint64(len(chunk))
	}
	return out, nil
}

func toInt32(xs []int) []int32 {
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}
