// Package epoch 实现按轮切分与游标推进的状态机，供各批处理变体共用。
package epoch

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"lmcbatch/pkg/contract"
)

// Options: 切分策略。
type Options struct {
	// BatchSize: 目标批大小，必须 > 0。
	BatchSize int
	// KeepRemainder: N % BatchSize 的尾部余数是否作为最后一个较小批发出；默认丢弃。
	KeepRemainder bool
	// Seed: 打乱用随机种子；0 表示以当前时间播种。
	Seed uint64
}

// Partitioner 持有 {切分结果, 游标, 最近一批}；只记录元素下标 [0,n)，不持有数据本身。
// 非并发安全。
type Partitioner struct {
	n       int
	opts    Options
	rng     *rand.Rand
	order   []int
	batches [][]int
	cursor  int
	state   contract.State
}

// New 创建 n 个元素上的切分器；初始状态为 Uninitialized，须先 Reset。
func New(n int, opts Options) (*Partitioner, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch_size must be > 0, got %d", contract.ErrConfiguration, opts.BatchSize)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative dataset size %d", contract.ErrConfiguration, n)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &Partitioner{
		n:     n,
		opts:  opts,
		rng:   rand.New(rand.NewSource(seed)),
		order: order,
		state: contract.StateUninitialized,
	}, nil
}

// Reset 可选均匀打乱后重新切分并将游标归零。
// 不打乱时恢复自然顺序，保证批内容确定。
// 无法产出任何批（N==0 或 batch_size > N 且未保留余数）时返回 ErrConfiguration，状态回到 Uninitialized。
func (p *Partitioner) Reset(shuffle bool) error {
	if shuffle {
		p.rng.Shuffle(len(p.order), func(i, j int) { p.order[i], p.order[j] = p.order[j], p.order[i] })
	} else {
		for i := range p.order {
			p.order[i] = i
		}
	}
	bs := p.opts.BatchSize
	full := p.n / bs
	count := full
	if p.opts.KeepRemainder && p.n%bs != 0 {
		count++
	}
	p.cursor = 0
	if count == 0 {
		p.batches = nil
		p.state = contract.StateUninitialized
		return fmt.Errorf("%w: batch_size %d produces no batch over %d examples", contract.ErrConfiguration, bs, p.n)
	}
	p.batches = make([][]int, count)
	for b := 0; b < count; b++ {
		end := (b + 1) * bs
		if end > p.n {
			end = p.n
		}
		p.batches[b] = p.order[b*bs : end]
	}
	p.state = contract.StateReady
	return nil
}

// NumBatches 返回最近一次 Reset 产出的批数。
func (p *Partitioner) NumBatches() int { return len(p.batches) }

// HasNext 报告当前游标后是否还有批。
func (p *Partitioner) HasNext() bool { return p.state == contract.StateReady && p.cursor < len(p.batches) }

// State 返回当前状态。
func (p *Partitioner) State() contract.State { return p.state }

// Cursor 返回已消费的批数。
func (p *Partitioner) Cursor() int { return p.cursor }

// Advance 返回当前游标处批的元素下标并前移游标；消费最后一批后进入 Exhausted。
// 返回的切片为副本，调用方可自由持有。
func (p *Partitioner) Advance() ([]int, error) {
	if !p.HasNext() {
		return nil, fmt.Errorf("%w: state=%s cursor=%d/%d", contract.ErrExhausted, p.state, p.cursor, len(p.batches))
	}
	idx := append([]int(nil), p.batches[p.cursor]...)
	p.cursor++
	if p.cursor == len(p.batches) {
		p.state = contract.StateExhausted
	}
	return idx, nil
}

// Prev 返回最近一次 Advance 的元素下标；自上次 Reset 以来未消费过则返回 ErrNoBatch。
func (p *Partitioner) Prev() ([]int, error) {
	if p.cursor == 0 || p.batches == nil {
		return nil, contract.ErrNoBatch
	}
	return append([]int(nil), p.batches[p.cursor-1]...), nil
}
