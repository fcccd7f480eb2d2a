package contract

// Vocabulary: token ↔ id 映射（外部协作方）。
// ID 对未知 token 返回负值；批处理器负责钳制为 0。
// 调用方将 IDs 的返回值视为只读，实现可以缓存复用。
type Vocabulary interface {
	ID(token string) int
	IDs(tokens []string) []int
	// NegSample 按给定形状抽取负样本，返回行优先展开的扁平数组（长度为各维乘积）。
	NegSample(shape ...int) []int
	Size() int
}

// SenseInventory: 缩写（SF）→ 有序候选全称（LF）映射，只读。
// Candidates 与 Senses 按同一下标对齐。
type SenseInventory interface {
	Candidates(sf string) ([][]string, bool)
	Senses(sf string) ([]string, bool)
}

// Marginal: 某个 LF 义项在元信息类别上的经验分布 p(metadata | LF)。
type Marginal struct {
	Metadata []string  `json:"metadata"`
	Count    []int     `json:"count"`
	P        []float64 `json:"p"`
}

// MetadataMarginals: LF 义项 → 经验元信息分布，离线计算、只读加载。
type MetadataMarginals interface {
	Lookup(sense string) (Marginal, bool)
}
