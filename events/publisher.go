package events

import (
	"context"
	"sync"

	"MintFM/model"
)

// Publisher 发布播放域事件。核心不依赖任何全局广播单例，
// 由装配方注入具体传输（进程内总线、消息队列、WebSocket 扇出等）。
type Publisher interface {
	Publish(ctx context.Context, event model.Event)
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 实现 Publisher
func (Nop) Publish(ctx context.Context, event model.Event) {}

// Multi 把事件同时发布到多个 Publisher
func Multi(publishers ...Publisher) Publisher {
	return multiPublisher(publishers)
}

type multiPublisher []Publisher

func (m multiPublisher) Publish(ctx context.Context, event model.Event) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}

// Bus 是进程内的事件总线，订阅者通过带缓冲的通道接收事件。
// 发布从不阻塞：订阅者消费不过来时事件被丢弃。
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int
	buffer int
}

// NewBus 创建事件总线，buffer 是每个订阅者的通道容量
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[int]chan model.Event), buffer: buffer}
}

// Publish 实现 Publisher
func (b *Bus) Publish(ctx context.Context, event model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// 订阅者积压，丢弃而不是阻塞发布方
		}
	}
}

// Subscribe 注册一个订阅者，返回事件通道和取消函数
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
