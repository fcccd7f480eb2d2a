package contract

import "errors"

// 批处理核心的最小错误分类（哨兵），调用方以 errors.Is 判定。
var (
	// ErrConfiguration: 配置与数据集不相容（例如 batch_size > N，无法产出任何批；缺少必需列）。
	ErrConfiguration = errors.New("configuration error")
	// ErrExhausted: 本轮已无剩余批（或尚未 Reset），调用方须先 Reset。
	ErrExhausted = errors.New("batcher exhausted")
	// ErrNoBatch: 自上次 Reset 以来尚未消费任何批，PrevBatch 无可返回。
	ErrNoBatch = errors.New("no batch consumed since reset")
	// ErrMalformedData: 上游数据完整性问题（候选为空、候选 token 为空或超长、目标下标越界）。
	// 不可恢复，必须在上游修复；禁止静默截断。
	ErrMalformedData = errors.New("malformed data")
	// ErrInvalidInput: 调用参数非法（负窗口、越界位置等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
