package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"lmcbatch/pkg/contract"
)

func fixtureDB(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rs.db")
	db, err := sql.Open("sqlite3", p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE examples (row_idx INTEGER, sf TEXT, trimmed_tokens TEXT, target_lf_idx INTEGER, category TEXT, split TEXT)`,
		`INSERT INTO examples VALUES (0, 'CHF', 'pt with dyspnea', 1, 'discharge', 'train')`,
		`INSERT INTO examples VALUES (1, 'RA', 'knee pain', 0, NULL, 'test')`,
		`CREATE TABLE partial (sf TEXT, trimmed_tokens TEXT)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return p
}

// TestRead 整表读取；NULL 视为空串；整数列按文本解析。
func TestRead(t *testing.T) {
	p := fixtureDB(t)
	r, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ds, err := r.Read(context.Background(), p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ds.Rows) != 2 || !ds.Has(contract.ColCategory) {
		t.Fatalf("dataset %+v", ds)
	}
	if ds.Rows[0].TargetLFIdx != 1 || ds.Rows[0].Category != "discharge" || ds.Rows[1].Category != "" {
		t.Fatalf("rows %+v", ds.Rows)
	}
}

// TestReadWhere 过滤条件。
func TestReadWhere(t *testing.T) {
	r, _ := New(&Options{Where: "split = 'test'"})
	ds, err := r.Read(context.Background(), fixtureDB(t))
	if err != nil || len(ds.Rows) != 1 || ds.Rows[0].SF != "RA" {
		t.Fatalf("where: %v %+v", err, ds)
	}
}

// TestErrors 非法表名、缺必需列、表不存在。
func TestErrors(t *testing.T) {
	if _, err := New(&Options{Table: "x; DROP TABLE y"}); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("table name: %v", err)
	}
	p := fixtureDB(t)
	r, _ := New(&Options{Table: "partial"})
	if _, err := r.Read(context.Background(), p); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("missing columns: %v", err)
	}
	r, _ = New(&Options{Table: "absent"})
	if _, err := r.Read(context.Background(), p); !errors.Is(err, contract.ErrConfiguration) {
		t.Fatalf("absent table: %v", err)
	}
}
