package align

import (
	"errors"
	"math"
	"testing"

	"gorgonia.org/tensor"

	"lmcbatch/pkg/contract"
)

func at(t *testing.T, d *tensor.Dense, coords ...int) int {
	t.Helper()
	v, err := d.At(coords...)
	if err != nil {
		t.Fatalf("At%v: %v", coords, err)
	}
	return v.(int)
}

func atF(t *testing.T, d *tensor.Dense, coords ...int) float64 {
	t.Helper()
	v, err := d.At(coords...)
	if err != nil {
		t.Fatalf("At%v: %v", coords, err)
	}
	return v.(float64)
}

func cands(lens ...int) []Candidate {
	out := make([]Candidate, len(lens))
	for i, n := range lens {
		ids := make([]int, n)
		for k := range ids {
			ids[k] = 10*(i+1) + k + 1
		}
		out[i] = Candidate{IDs: ids}
	}
	return out
}

// TestAlignMixedCardinality 3 个候选（长度 2,4,1）与 5 个候选同批：maxCand=5，第一行后 2 个槽位全 0。
func TestAlignMixedCardinality(t *testing.T) {
	exs := []Example{
		{Candidates: cands(2, 4, 1)},
		{Candidates: cands(1, 1, 1, 1, 1)},
	}
	res, err := Align(exs, false)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if res.MaxCandidates != 5 {
		t.Fatalf("maxCand %d", res.MaxCandidates)
	}
	if s := res.LFIDs.Shape(); s[0] != 2 || s[1] != 5 || s[2] != MaxLFTokens {
		t.Fatalf("lf ids shape %v", s)
	}
	if res.Counts[0] != 3 || res.Counts[1] != 5 {
		t.Fatalf("counts %v", res.Counts)
	}
	wantLens := []int{2, 4, 1, 0, 0}
	for j, want := range wantLens {
		if got := at(t, res.LFTokenCounts, 0, j); got != want {
			t.Fatalf("token count [0,%d]=%d want %d", j, got, want)
		}
		for k := 0; k < MaxLFTokens; k++ {
			v := at(t, res.LFIDs, 0, j, k)
			if k >= want && v != 0 {
				t.Fatalf("padding [0,%d,%d]=%d not zero", j, k, v)
			}
			if k < want && v == 0 {
				t.Fatalf("real token [0,%d,%d] is zero", j, k)
			}
		}
	}
	if res.LFMetadataP != nil || res.LFMetadataIDs != nil {
		t.Fatalf("metadata tensors must be nil when not requested")
	}
}

// TestAlignMetadata 批内 maxMeta 动态收缩；缺分布回退为类别 0 上的点质量；分布归一化。
func TestAlignMetadata(t *testing.T) {
	exs := []Example{
		{Candidates: []Candidate{
			{IDs: []int{1}, Metadata: &Distribution{IDs: []int{3, 4}, P: []float64{1, 3}}},
			{IDs: []int{2}},
		}},
		{Candidates: []Candidate{
			{IDs: []int{5}, Metadata: &Distribution{IDs: []int{7}, P: []float64{1}}},
		}},
	}
	res, err := Align(exs, true)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if res.MaxMetadata != 2 {
		t.Fatalf("maxMeta %d", res.MaxMetadata)
	}
	if s := res.LFMetadataP.Shape(); s[0] != 2 || s[1] != 2 || s[2] != 2 {
		t.Fatalf("p shape %v", s)
	}
	if p := atF(t, res.LFMetadataP, 0, 0, 1); math.Abs(p-0.75) > 1e-12 {
		t.Fatalf("normalised p %v", p)
	}
	if at(t, res.LFMetadataIDs, 0, 0, 1) != 4 {
		t.Fatalf("metadata id mismatch")
	}
	// 回退点质量
	if atF(t, res.LFMetadataP, 0, 1, 0) != 1 || atF(t, res.LFMetadataP, 0, 1, 1) != 0 {
		t.Fatalf("fallback point mass missing")
	}
	// 第二个样本的空槽位全 0
	for k := 0; k < 2; k++ {
		if atF(t, res.LFMetadataP, 1, 1, k) != 0 {
			t.Fatalf("padded candidate slot has non-zero p")
		}
	}
}

// TestAlignMetadataAllMissing 全部缺分布时 maxMeta = 1。
func TestAlignMetadataAllMissing(t *testing.T) {
	res, err := Align([]Example{{Candidates: cands(1, 2)}}, true)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if res.MaxMetadata != 1 || atF(t, res.LFMetadataP, 0, 1, 0) != 1 {
		t.Fatalf("expect point mass with maxMeta=1, got %d", res.MaxMetadata)
	}
}

// TestAlignMalformed 空候选、空 token、超长候选均为致命错误。
func TestAlignMalformed(t *testing.T) {
	cases := map[string][]Example{
		"no-candidates": {{}},
		"empty-tokens":  {{Candidates: cands(2, 0)}},
		"too-long":      {{Candidates: cands(MaxLFTokens + 1)}},
		"meta-mismatch": {{Candidates: []Candidate{{IDs: []int{1}, Metadata: &Distribution{IDs: []int{1, 2}, P: []float64{1}}}}}},
	}
	for name, exs := range cases {
		if _, err := Align(exs, true); !errors.Is(err, contract.ErrMalformedData) {
			t.Fatalf("%s: expect malformed data, got %v", name, err)
		}
	}
}

type stubInventory struct {
	cands  map[string][][]string
	senses map[string][]string
}

func (s stubInventory) Candidates(sf string) ([][]string, bool) {
	c, ok := s.cands[sf]
	return c, ok
}

func (s stubInventory) Senses(sf string) ([]string, bool) {
	c, ok := s.senses[sf]
	return c, ok
}

// TestValidate 构造期一次性校验。
func TestValidate(t *testing.T) {
	inv := stubInventory{
		cands: map[string][][]string{
			"CHF":  {{"congestive", "heart", "failure"}},
			"BAD":  {{"a", "b", "c", "d", "e", "f"}},
			"NONE": {},
		},
		senses: map[string][]string{"CHF": {"congestive heart failure"}},
	}
	ok := []contract.Row{{SF: "CHF", TargetLFIdx: 0}, {SF: "CHF", TargetLFIdx: 0}}
	if err := Validate(ok, inv, true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	bad := map[string][]contract.Row{
		"target-out-of-range": {{SF: "CHF", TargetLFIdx: 1}},
		"negative-target":     {{SF: "CHF", TargetLFIdx: -1}},
		"too-long":            {{SF: "BAD"}},
		"no-candidates":       {{SF: "NONE"}},
		"unknown-sf":          {{SF: "XYZ"}},
	}
	for name, rows := range bad {
		if err := Validate(rows, inv, false); !errors.Is(err, contract.ErrMalformedData) {
			t.Fatalf("%s: expect malformed data, got %v", name, err)
		}
	}
	inv.senses = nil
	if err := Validate(ok, inv, true); !errors.Is(err, contract.ErrMalformedData) {
		t.Fatalf("missing senses must fail when required: %v", err)
	}
	if err := Validate(ok, nil, false); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("nil inventory: %v", err)
	}
}

func BenchmarkAlign(b *testing.B) {
	exs := make([]Example, 64)
	for i := range exs {
		exs[i] = Example{Candidates: cands(1+i%5, 2, 3, 4)}
		for j := range exs[i].Candidates {
			exs[i].Candidates[j].Metadata = &Distribution{IDs: []int{1, 2, 3}, P: []float64{0.2, 0.3, 0.5}}
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Align(exs, true); err != nil {
			b.Fatal(err)
		}
	}
}
