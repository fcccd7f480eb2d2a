package contract

import "strings"

// DocID: 语料文档的逻辑标识（通常为规范化路径，跨平台一致）。
type DocID string

// Column: 表格数据集的列名（snake_case，与 CSV 表头/SQLite 列一致）。
type Column string

const (
	ColRowIdx        Column = "row_idx"
	ColSF            Column = "sf"
	ColContext       Column = "trimmed_tokens"
	ColTargetLFIdx   Column = "target_lf_idx"
	ColTargetLFSense Column = "target_lf_sense"
	ColSection       Column = "section"
	ColCategory      Column = "category"
	ColGlobalContext Column = "tokenized_context"
)

// RequiredColumns: 任一批处理变体都必须存在的列。
var RequiredColumns = []Column{ColSF, ColContext, ColTargetLFIdx}

// Row: 单条缩写消歧样本（只读）。
// 可选列缺失时对应字段为零值；是否启用由批处理器在构造期按 Dataset.Columns 一次性判定。
type Row struct {
	RowIdx        int
	SF            string
	Context       []string // trimmed_tokens 按空白切分
	TargetLFIdx   int
	TargetLFSense string
	Section       string
	Category      string
	GlobalContext []string // tokenized_context 按空白切分
}

// Metadata 返回 col 指定的元信息标签；col 非 section/category 时返回空串。
func (r Row) Metadata(col Column) string {
	switch col {
	case ColSection:
		return r.Section
	case ColCategory:
		return r.Category
	default:
		return ""
	}
}

// Dataset: 内存中的表格数据集。Columns 记录源中实际出现的列。
type Dataset struct {
	Columns map[Column]bool
	Rows    []Row
}

// Has 报告数据集是否包含列 c。
func (d Dataset) Has(c Column) bool { return d.Columns[c] }

// Missing 返回 cols 中数据集缺失的列（保持输入顺序）。
func (d Dataset) Missing(cols ...Column) []Column {
	var out []Column
	for _, c := range cols {
		if !d.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Corpus: 扁平化的 token id 序列。
// 约束：
//  1. 文档/元信息边界以哨兵值（window.Boundary，-1）标记，不是真实 token；
//  2. MetadataIDs 为空或与 IDs 等长，MetadataIDs[i] 为位置 i 所属的元信息 id；
//  3. 构建后只读。
type Corpus struct {
	IDs         []int
	MetadataIDs []int
}

// Len 返回语料长度（含边界位置）。
func (c Corpus) Len() int { return len(c.IDs) }

// SplitTokens 以空白切分 token 字符串；空串返回 nil。
func SplitTokens(s string) []string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return nil
	}
	return f
}
