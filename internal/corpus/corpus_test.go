package corpus

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"

	"lmcbatch/internal/window"
	"lmcbatch/pkg/contract"
	"lmcbatch/plugins/vocab/table"
)

func vocabFixture(t *testing.T) *table.Table {
	t.Helper()
	v, err := table.New(table.File{
		Tokens:        []string{"<pad>", "pt", "with", "chf", "header=HISTORY", "header=PLAN"},
		MetadataStart: 4,
	}, 1)
	if err != nil {
		t.Fatalf("vocab: %v", err)
	}
	return v
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestBuilder 文档边界、元信息标记替换、未知 token 钳制。
func TestBuilder(t *testing.T) {
	b := NewBuilder(vocabFixture(t), 4)
	b.Add([]string{"header=HISTORY", "pt", "with", "header=PLAN", "chf"})
	b.Add(nil)
	b.Add([]string{"pt", "zzz"})
	c := b.Corpus()
	B := window.Boundary
	wantIDs := []int{B, 1, 2, B, 3, B, 1, 0}
	wantMeta := []int{4, 4, 4, 5, 5, 0, 0, 0}
	if !equal(c.IDs, wantIDs) {
		t.Fatalf("ids %v want %v", c.IDs, wantIDs)
	}
	if !equal(c.MetadataIDs, wantMeta) {
		t.Fatalf("meta %v want %v", c.MetadataIDs, wantMeta)
	}
	if b.Docs() != 2 || b.Misses() != 1 {
		t.Fatalf("docs=%d misses=%d", b.Docs(), b.Misses())
	}
	if NewBuilder(vocabFixture(t), 0).Corpus().MetadataIDs != nil {
		t.Fatalf("metadata ids must be nil without metadata range")
	}
}

type memDocs map[string]string

func (m memDocs) Iterate(ctx context.Context, roots []string, yield func(contract.DocID, io.ReadCloser) error) error {
	for _, r := range roots {
		if err := yield(contract.DocID(r), io.NopCloser(strings.NewReader(m[r]))); err != nil {
			return err
		}
	}
	return nil
}

// TestBuild 通过 DocumentReader 构建。
func TestBuild(t *testing.T) {
	docs := memDocs{"a.txt": "pt with\nchf", "b.txt": "  chf  "}
	b := NewBuilder(vocabFixture(t), 4)
	if err := Build(context.Background(), docs, []string{"a.txt", "b.txt"}, b); err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := b.Corpus().IDs; !equal(got, []int{1, 2, 3, window.Boundary, 3}) {
		t.Fatalf("ids %v", got)
	}
}

// TestEncodeDecode 二进制往返与损坏输入。
func TestEncodeDecode(t *testing.T) {
	in := contract.Corpus{IDs: []int{1, window.Boundary, 3}, MetadataIDs: []int{0, 7, 7}}
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := buf.Bytes()
	out, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !equal(out.IDs, in.IDs) || !equal(out.MetadataIDs, in.MetadataIDs) {
		t.Fatalf("round trip mismatch %+v", out)
	}
	if _, err := Decode(bytes.NewReader(raw[:len(raw)-2])); !errors.Is(err, contract.ErrMalformedData) {
		t.Fatalf("truncated: %v", err)
	}
	if _, err := Decode(strings.NewReader("nope")); !errors.Is(err, contract.ErrMalformedData) {
		t.Fatalf("bad header: %v", err)
	}
	if err := Encode(io.Discard, contract.Corpus{IDs: []int{1}, MetadataIDs: []int{}}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("length mismatch: %v", err)
	}
}

// TestDecodeLargeHeaderTruncated 头部声明的长度远大于实际数据时，报错前不按声明长度分配内存。
func TestDecodeLargeHeaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	h := header{Magic: magic, Version: version, N: 1 << 26}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := Decode(bytes.NewReader(raw))
	runtime.ReadMemStats(&after)
	if !errors.Is(err, contract.ErrMalformedData) {
		t.Fatalf("expect malformed, got %v", err)
	}
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 8<<20 {
		t.Fatalf("decode allocated %d bytes for an empty body", grown)
	}
}

// TestEncodeDecodeMultiChunk 跨多个读取块的语料完整往返。
func TestEncodeDecodeMultiChunk(t *testing.T) {
	n := 3*readChunk + 17
	in := contract.Corpus{IDs: make([]int, n), MetadataIDs: make([]int, n)}
	for i := range in.IDs {
		in.IDs[i] = i % 1000
		in.MetadataIDs[i] = i % 7
	}
	var buf bytes.Buffer
	if err := Encode(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !equal(out.IDs, in.IDs) || !equal(out.MetadataIDs, in.MetadataIDs) {
		t.Fatalf("round trip mismatch at n=%d", n)
	}
}
