package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"lmcbatch/pkg/contract"
)

// BenchmarkWrite 不同产物大小下的写入性能。
func BenchmarkWrite(b *testing.B) {
	sizes := []int{1024, 1024 * 1024}
	for _, sz := range sizes {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := bytes.Repeat([]byte("a"), sz)
			w, err := New(&Options{OutputDir: b.TempDir(), Overwrite: true})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			id := contract.ArtifactID("corpus/ids.bin")
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
