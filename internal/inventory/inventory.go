// Package inventory 加载缩写义项清单（SF → 有序 LF 列表），并提供 LF 清洗。
package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"lmcbatch/pkg/contract"
)

// Blacklist: 对区分义项无信息量的 UMLS 后缀。
var Blacklist = []string{"unidentified", "otherwise", "specified", "nos", "procedure", "in abo system", "geographic location"}

var stripBlacklist = regexp.MustCompile(`\s+[(]?(` + strings.Join(quoteAll(Blacklist), "|") + `)[)]?`)

func quoteAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = regexp.QuoteMeta(x)
	}
	return out
}

// Clean 清洗一个 LF 条目：小写、按 ';' 拆分、去掉黑名单后缀与 "sf - " 前缀、去掉与 SF 相同的片段，
// 去重排序后以 ';' 重新拼接。
func Clean(lf, sf string) string {
	sf = strings.ToLower(sf)
	prefix := sf + " - "
	bag := make(map[string]struct{})
	for _, part := range strings.Split(strings.ToLower(lf), ";") {
		c := stripBlacklist.ReplaceAllString(part, "")
		c = strings.ReplaceAll(c, prefix, "")
		if c == sf {
			continue
		}
		bag[c] = struct{}{}
	}
	out := make([]string, 0, len(bag))
	for c := range bag {
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, ";")
}

// Representative 返回 ';' 分隔的别名中第一个非空者（去首尾空白）。
func Representative(lf string) string {
	for _, alt := range strings.Split(lf, ";") {
		if alt = strings.TrimSpace(alt); alt != "" {
			return alt
		}
	}
	return ""
}

// Inventory 实现 contract.SenseInventory。构建后只读，可并发读取。
type Inventory struct {
	senses map[string][]string
	tokens map[string][][]string
}

// New 由 SF → 义项列表构建清单；候选 token 取义项代表别名按空白切分的结果。
// 义项顺序即候选下标顺序（target_lf_idx 依赖此顺序）；义项字符串原样保留，用作边际分布的键。
func New(m map[string][]string) *Inventory {
	inv := &Inventory{senses: make(map[string][]string, len(m)), tokens: make(map[string][][]string, len(m))}
	for sf, lfs := range m {
		senses := append([]string(nil), lfs...)
		toks := make([][]string, len(senses))
		for i, lf := range senses {
			toks[i] = contract.SplitTokens(Representative(lf))
		}
		inv.senses[sf] = senses
		inv.tokens[sf] = toks
	}
	return inv
}

// Load 读取 JSON 文件 {"SF": ["lf 1", "lf 2", ...]}；clean 为真时先对每个条目执行 Clean。
func Load(path string, clean bool) (*Inventory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	var m map[string][]string
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: inventory: decode %s: %v", contract.ErrConfiguration, path, err)
	}
	if clean {
		for sf, lfs := range m {
			for i, lf := range lfs {
				lfs[i] = Clean(lf, sf)
			}
		}
	}
	return New(m), nil
}

// Candidates 返回 SF 的候选 token 序列。
func (inv *Inventory) Candidates(sf string) ([][]string, bool) {
	c, ok := inv.tokens[sf]
	return c, ok
}

// Senses 返回 SF 的候选义项标签（与 Candidates 下标对齐）。
func (inv *Inventory) Senses(sf string) ([]string, bool) {
	s, ok := inv.senses[sf]
	return s, ok
}

// Len 返回 SF 数量。
func (inv *Inventory) Len() int { return len(inv.senses) }

var _ contract.SenseInventory = (*Inventory)(nil)
