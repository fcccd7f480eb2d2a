// Package filesystem 从文件、目录或 STDIN 读取语料文档。
package filesystem

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"lmcbatch/pkg/contract"
)

// Options: 文档读取选项。
type Options struct {
	// BufSize: 读缓冲区大小（字节），默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 递归目录时跳过的目录基名（大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 仅读取这些扩展名的文件（如 [".txt"]）；为空表示不过滤。
	Extensions []string `json:"extensions"`
	// JSONPairs: .json 文件按 [[doc_id, text], ...] 解析，每个元素作为一篇文档。
	JSONPairs bool `json:"json_pairs"`
}

// FileSystem 实现 contract.DocumentReader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	jsonPairs  bool
}

// New 创建文档读取器。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 * 1024, excludeDir: map[string]struct{}{}, exts: map[string]struct{}{}}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, ext := range opts.Extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.exts[strings.ToLower(ext)] = struct{}{}
	}
	r.jsonPairs = opts.JSONPairs
	return r
}

var _ contract.DocumentReader = (*FileSystem)(nil)

// Iterate 按稳定（字典序）顺序对每篇文档调用 yield；yield 负责关闭 ReadCloser。
// roots 为空或仅为 "-" 时读取 STDIN；"-" 不可与其他根混用。
// 目录符号链接不跟随；指向常规文件的符号链接照常读取；失效链接报错。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(id contract.DocID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.DocID("stdin"), r.buffered(os.Stdin))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("reader: stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateRoot(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateRoot(ctx context.Context, root string, yield func(contract.DocID, io.ReadCloser) error) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(ctx, root, yield)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil
		}
		return r.emit(ctx, root, yield)
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := r.excludeDir[strings.ToLower(d.Name())]; skip && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		if !r.accept(p) {
			return nil
		}
		return r.emit(ctx, p, yield)
	})
}

func (r *FileSystem) accept(p string) bool {
	if len(r.exts) == 0 {
		return true
	}
	_, ok := r.exts[strings.ToLower(filepath.Ext(p))]
	return ok
}

func (r *FileSystem) emit(ctx context.Context, p string, yield func(contract.DocID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	id := contract.NormalizeDocID(p)
	if r.jsonPairs && strings.EqualFold(filepath.Ext(p), ".json") {
		defer f.Close()
		return r.emitPairs(ctx, id, f, yield)
	}
	rc := r.buffered(f)
	if err := yield(id, rc); err != nil {
		_ = rc.Close()
		return err
	}
	return nil
}

// emitPairs 流式解析 [[doc_id, text], ...]，每个元素产出 DocID "<file>#<doc_id>"。
func (r *FileSystem) emitPairs(ctx context.Context, id contract.DocID, src io.Reader, yield func(contract.DocID, io.ReadCloser) error) error {
	dec := json.NewDecoder(bufio.NewReaderSize(src, r.bufSize))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return fmt.Errorf("%w: reader: %s: expect JSON array of [id, text] pairs", contract.ErrMalformedData, id)
	}
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var pair []json.RawMessage
		if err := dec.Decode(&pair); err != nil || len(pair) != 2 {
			return fmt.Errorf("%w: reader: %s: element %d is not an [id, text] pair", contract.ErrMalformedData, id, i)
		}
		var text string
		if err := json.Unmarshal(pair[1], &text); err != nil {
			return fmt.Errorf("%w: reader: %s: element %d text: %v", contract.ErrMalformedData, id, i, err)
		}
		docID := contract.DocID(fmt.Sprintf("%s#%s", id, strings.Trim(string(pair[0]), `"`)))
		if err := yield(docID, io.NopCloser(strings.NewReader(text))); err != nil {
			return err
		}
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func (r *FileSystem) buffered(rc io.ReadCloser) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(rc, r.bufSize), c: rc}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
