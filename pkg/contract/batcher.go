package contract

// State: 批处理器状态机。
//
//	Uninitialized --Reset--> Ready --Next(还有剩余)--> Ready
//	Ready --Next(消费最后一批)--> Exhausted --Reset--> Ready
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExhausted:
		return "exhausted"
	default:
		return "uninitialized"
	}
}

// Shape: 批内某个字段的形状摘要（用于日志与 JSONL 摘要，不承载数据）。
type Shape struct {
	Field string `json:"field"`
	Dims  []int  `json:"dims"`
}

// Batch: 一次 Next 组装出的批（批内局部数组，调用方独占）。
// 约束：所有数组第 0 维等于 Size()；填充值为 0；每个填充字段都伴随真实长度/计数。
type Batch interface {
	Size() int
	Shapes() []Shape
	// Misses: 组装时被钳制为 0 的未知 token/元信息查找次数。
	Misses() int
}

// Batcher: 有状态的按轮（epoch）批处理器。
// 约束：
//  1. 单线程同步使用；同一实例的并发调用须由外部串行化；
//  2. Reset 可选打乱后切分为 floor(N/batch_size) 批（尾部余数默认丢弃）；无法产出任何批返回 ErrConfiguration；
//  3. Next 每次分配新的批内数组；无剩余批时返回 ErrExhausted；
//  4. 仅 Reset 能离开 Exhausted 状态。
type Batcher interface {
	Reset(shuffle bool) error
	NumBatches() int
	HasNext() bool
	State() State
	Next() (Batch, error)
}
