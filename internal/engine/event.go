package engine

import (
	"container/heap"
	"fmt"
	"time"

	"riptide/internal/market"
)

// EventKind 的数值即优先级：同一时刻先行情、再信号、再订单、最后成交，
// 对应单个瞬间内的因果依赖。
type EventKind int8

const (
	KindMarketData EventKind = iota
	KindSignal
	KindOrder
	KindFill
)

func (k EventKind) String() string {
	switch k {
	case KindMarketData:
		return "market_data"
	case KindSignal:
		return "signal"
	case KindOrder:
		return "order"
	case KindFill:
		return "fill"
	default:
		return "unknown"
	}
}

// Event 是调度队列中的异质定时事件，按种类挂载不同负载。
type Event struct {
	Time   time.Time
	Kind   EventKind
	Symbol string

	Candle *market.Candle
	Signal *Signal
	Order  *Order
	Fill   *Fill

	seq uint64
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	// 等时刻等优先级时以入队序号保证确定性
	return a.seq < b.seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// EventQueue 对所有事件施加单一全序（时间升序，种类优先级破平局，
// 入队序号保证稳定）。取出时校验时间单调不回退：回退意味着前视偏差，
// 属于致命的完整性破坏，只记录、绝不悄悄纠正。
type EventQueue struct {
	items      eventHeap
	nextSeq    uint64
	lastPopped time.Time
	hasPopped  bool
	violation  error
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	heap.Init(&q.items)
	return q
}

// Push 插入事件并分配单调序号。
func (q *EventQueue) Push(ev *Event) {
	if ev == nil {
		return
	}
	ev.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, ev)
}

// Pop 取出最早事件；队列为空时返回 nil。
func (q *EventQueue) Pop() *Event {
	if q.items.Len() == 0 {
		return nil
	}
	ev := heap.Pop(&q.items).(*Event)
	if q.hasPopped && ev.Time.Before(q.lastPopped) && q.violation == nil {
		q.violation = fmt.Errorf("事件时序回退: %s(%s) 早于已处理的 %s",
			ev.Time.Format(time.RFC3339), ev.Kind, q.lastPopped.Format(time.RFC3339))
	}
	q.lastPopped = ev.Time
	q.hasPopped = true
	return ev
}

// Peek 查看最早事件但不取出。
func (q *EventQueue) Peek() *Event {
	if q.items.Len() == 0 {
		return nil
	}
	return q.items[0]
}

func (q *EventQueue) Len() int { return q.items.Len() }

// ValidateChronology 返回取出序列中检测到的第一处时序回退。
func (q *EventQueue) ValidateChronology() error {
	return q.violation
}
