package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"MintFM/logger"
	"MintFM/model"

	"github.com/gorilla/websocket"
)

// wsClient 是一个 WebSocket 订阅连接，写入通过独立通道串行化
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 把播放域事件扇出给所有 WebSocket 订阅者，
// 供分析、通知等外部协作方实时消费。
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]bool
	upgrader websocket.Upgrader
}

// NewHub 创建 WebSocket 事件扇出器
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Publish 实现 Publisher，把事件序列化后广播给所有连接
func (h *Hub) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("序列化事件失败", logger.ErrorField(err), logger.String("type", event.Type))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// 连接积压，丢弃该条事件
		}
	}
}

// HandleEvents 升级 HTTP 连接为 WebSocket 并注册为订阅者
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	logger.Debug("事件订阅者接入", logger.String("remote", conn.RemoteAddr().String()))

	go h.writePump(client)
	go h.readPump(client)
}

// writePump 把事件写给单个连接
func (h *Hub) writePump(client *wsClient) {
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(client)
			return
		}
	}
}

// readPump 只用来感知对端关闭，订阅者不发送业务消息
func (h *Hub) readPump(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.drop(client)
			return
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	client.conn.Close()
}
