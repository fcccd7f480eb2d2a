// Package window 在扁平语料中抽取中心词左右的上下文，不跨文档/元信息边界。
package window

// Boundary: 文档/元信息边界哨兵（非真实 token id）。
const Boundary = -1

// Extract 返回 center 左右各至多 w 个 id（不含 center）。
// 步骤：
//  1. 窗口 [center-w, center+w] 裁剪到数组边界；
//  2. 左片段取最后一个 Boundary 之后的部分（最近边界生效）；
//  3. 右片段取第一个 Boundary 之前的部分；
//  4. 拼接左右片段。
//
// 结果长度 <= 2w，永不包含 Boundary；返回新分配的切片。
// center 越界或 w<0 时返回 nil。
func Extract(ids []int, center, w int) []int {
	if center < 0 || center >= len(ids) || w < 0 {
		return nil
	}
	start := center - w
	if start < 0 {
		start = 0
	}
	end := center + w + 1
	if end > len(ids) {
		end = len(ids)
	}
	left := ids[start:center]
	right := ids[center+1 : end]

	for i := len(left) - 1; i >= 0; i-- {
		if left[i] == Boundary {
			left = left[i+1:]
			break
		}
	}
	for i, id := range right {
		if id == Boundary {
			right = right[:i]
			break
		}
	}
	out := make([]int, 0, len(left)+len(right))
	out = append(out, left...)
	return append(out, right...)
}

// Centers 返回所有可作为中心词的位置（排除 Boundary 位置），按升序。
func Centers(ids []int) []int {
	out := make([]int, 0, len(ids))
	for i, id := range ids {
		if id != Boundary {
			out = append(out, i)
		}
	}
	return out
}
