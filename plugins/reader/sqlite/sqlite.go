// Package sqlite 从 SQLite 表读取缩写样本数据集。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"

	"lmcbatch/internal/dataset"
	"lmcbatch/pkg/contract"
)

// Options: 读取选项。
type Options struct {
	// Table: 样本表名，默认 "examples"。仅允许标识符字符。
	Table string `json:"table"`
	// Where: 可选过滤条件（原样拼接在 WHERE 之后，例如 "split = 'train'"）。
	Where string `json:"where"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Reader 实现 contract.DatasetReader；source 为数据库文件路径。
type Reader struct {
	table string
	where string
}

// New 创建读取器。
func New(opts *Options) (*Reader, error) {
	r := &Reader{table: "examples"}
	if opts != nil {
		if opts.Table != "" {
			r.table = opts.Table
		}
		r.where = opts.Where
	}
	if !identRe.MatchString(r.table) {
		return nil, fmt.Errorf("%w: sqlite: invalid table name %q", contract.ErrConfiguration, r.table)
	}
	return r, nil
}

var _ contract.DatasetReader = (*Reader)(nil)

// Read 查询整张表（按 rowid 排序），列名即表头。
func (r *Reader) Read(ctx context.Context, source string) (contract.Dataset, error) {
	db, err := sql.Open("sqlite3", "file:"+source+"?mode=ro")
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("sqlite: open %s: %w", source, err)
	}
	defer db.Close()

	q := fmt.Sprintf(`SELECT * FROM "%s"`, r.table)
	if r.where != "" {
		q += " WHERE " + r.where
	}
	q += " ORDER BY rowid"
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: sqlite: query %s: %v", contract.ErrConfiguration, r.table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return contract.Dataset{}, err
	}
	b, err := dataset.NewBuilder(cols)
	if err != nil {
		return contract.Dataset{}, err
	}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	fields := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return contract.Dataset{}, fmt.Errorf("%w: sqlite: scan: %v", contract.ErrMalformedData, err)
		}
		for i, v := range vals {
			fields[i] = v.String
		}
		if err := b.Add(fields); err != nil {
			return contract.Dataset{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return contract.Dataset{}, err
	}
	return b.Dataset(), nil
}
