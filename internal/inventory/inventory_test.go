package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"lmcbatch/pkg/contract"
)

// TestClean 表驱动覆盖黑名单后缀、SF 前缀、去重排序。
func TestClean(t *testing.T) {
	cases := []struct {
		name, lf, sf, want string
	}{
		{"blacklist-suffix", "Heart failure NOS", "chf", "heart failure"},
		{"paren-blacklist", "Fracture (procedure)", "fx", "fracture"},
		{"sf-prefix", "CHF - congestive heart failure", "CHF", "congestive heart failure"},
		{"dedupe-sort", "b thing;a thing;b thing", "x", "a thing;b thing"},
		{"drop-sf-itself", "ra;rheumatoid arthritis", "RA", "rheumatoid arthritis"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.lf, tt.sf); got != tt.want {
				t.Fatalf("Clean(%q,%q)=%q want %q", tt.lf, tt.sf, got, tt.want)
			}
		})
	}
}

// TestInventory 候选 token 与义项按下标对齐。
func TestInventory(t *testing.T) {
	inv := New(map[string][]string{"CHF": {"congestive heart failure", "chronic heart failure"}})
	c, ok := inv.Candidates("CHF")
	if !ok || len(c) != 2 || len(c[0]) != 3 || c[1][0] != "chronic" {
		t.Fatalf("candidates %v", c)
	}
	s, _ := inv.Senses("CHF")
	if s[1] != "chronic heart failure" {
		t.Fatalf("senses %v", s)
	}
	if _, ok := inv.Candidates("RA"); ok {
		t.Fatalf("unknown SF must not be found")
	}
	if inv.Len() != 1 {
		t.Fatalf("len %d", inv.Len())
	}
}

// TestLoad 覆盖文件加载与可选清洗。
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sf_lf.json")
	if err := os.WriteFile(p, []byte(`{"PT":["Physical therapy NOS","patient"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	inv, err := Load(p, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, _ := inv.Senses("PT")
	if s[0] != "physical therapy" {
		t.Fatalf("clean not applied: %v", s)
	}
	_ = os.WriteFile(p, []byte(`[1,2]`), 0o644)
	if _, err := Load(p, false); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("expect configuration error, got %v", err)
	}
}

// TestLoadCleanAlternatives 清洗后的多别名义项：候选 token 取第一个别名，义项保留完整拼接串。
func TestLoadCleanAlternatives(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sf_lf.json")
	if err := os.WriteFile(p, []byte(`{"CXR":["Chest X-ray;CXR film","CXR - portable chest film"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	inv, err := Load(p, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, _ := inv.Candidates("CXR")
	want := [][]string{{"chest", "x-ray"}, {"portable", "chest", "film"}}
	if !reflect.DeepEqual(c, want) {
		t.Fatalf("candidates %q want %q", c, want)
	}
	s, _ := inv.Senses("CXR")
	if s[0] != "chest x-ray;cxr film" {
		t.Fatalf("sense label %q", s[0])
	}
	for _, toks := range c {
		for _, tok := range toks {
			if strings.Contains(tok, ";") {
				t.Fatalf("token %q carries separator", tok)
			}
		}
	}
}

func TestRepresentative(t *testing.T) {
	cases := map[string]string{
		"a b":       "a b",
		"a b;c":     "a b",
		" ;  x y ;": "x y",
		";":         "",
		"":          "",
	}
	for in, want := range cases {
		if got := Representative(in); got != want {
			t.Fatalf("Representative(%q)=%q want %q", in, got, want)
		}
	}
}
