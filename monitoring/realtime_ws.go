package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"healthrisk/inference"
	"healthrisk/logging"
)

// MessageType 消息类型
type MessageType string

const (
	RiskAlert MessageType = "risk_alert"
	Heartbeat MessageType = "heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// RiskAlertMessage 高风险预测告警
type RiskAlertMessage struct {
	PredictionID string      `json:"predictionId"`
	Domain       string      `json:"domain"`
	Bundle       string      `json:"bundle"`
	Version      string      `json:"version"`
	Risk         string      `json:"risk"`
	Result       interface{} `json:"result"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type  string `json:"type"` // subscribe, unsubscribe, ping
	Topic string `json:"topic"`
}

// Client WebSocket客户端
type Client struct {
	hub      *AlertHub
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.RWMutex
	subscriptions map[string]bool // 订阅的领域，为空时接收全部

	sendMu sync.Mutex
	closed bool
}

type envelope struct {
	topic   string
	payload []byte
}

// AlertHub 告警推送中心，把高风险预测广播给所有已连接的客户端
type AlertHub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewAlertHub 创建告警推送中心
func NewAlertHub(buffer int) *AlertHub {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start 启动推送中心
func (h *AlertHub) Start() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			AlertClients.Set(float64(total))
			logging.L().Info("alert client connected", zap.String("client", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			AlertClients.Set(float64(total))
			logging.L().Info("alert client disconnected", zap.String("client", client.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.subscribed(msg.topic) {
					continue
				}
				if !client.trySend(msg.payload) {
					// 发送缓冲已满，断开慢客户端
					client.close()
					delete(h.clients, client)
				}
			}
			AlertClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			AlertClients.Set(0)
			return
		}
	}
}

// Stop 停止推送中心
func (h *AlertHub) Stop() {
	h.cancel()
	<-h.done
}

// ClientCount 当前连接数
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理WebSocket连接
func (h *AlertHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 64),
		clientID:      uuid.NewString(),
		subscriptions: make(map[string]bool),
	}
	for _, topic := range r.URL.Query()["domain"] {
		client.subscriptions[topic] = true
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Broadcast 广播消息，队列满时丢弃
func (h *AlertHub) Broadcast(topic string, message []byte) {
	select {
	case h.broadcast <- envelope{topic: topic, payload: message}:
	default:
		AlertDroppedCount.Inc()
		logging.L().Warn("alert broadcast queue is full, dropping message", zap.String("topic", topic))
	}
}

// OnPrediction 推送高风险预测
func (h *AlertHub) OnPrediction(_ context.Context, p *inference.Prediction) error {
	if p.Risk != inference.RiskHigh {
		return nil
	}

	data, err := json.Marshal(RiskAlertMessage{
		PredictionID: p.ID,
		Domain:       p.Domain,
		Bundle:       p.Bundle,
		Version:      p.Version,
		Risk:         p.Risk,
		Result:       p.Result,
		Timestamp:    p.CreatedAt,
	})
	if err != nil {
		return err
	}
	message, err := json.Marshal(Message{
		Type:      RiskAlert,
		Topic:     p.Domain,
		Timestamp: time.Now().UTC(),
		Data:      data,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return err
	}

	h.Broadcast(p.Domain, message)
	return nil
}

// trySend 非阻塞发送，客户端已关闭或缓冲已满时返回 false
func (c *Client) trySend(message []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close 关闭发送通道，可重复调用
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[topic]
}

// writePump WebSocket写入泵
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.L().Debug("websocket write failed", zap.String("client", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Warn("websocket read failed", zap.String("client", c.clientID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.L().Debug("invalid client message", zap.String("client", c.clientID), zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

// handleClientMessage 处理客户端消息
func (c *Client) handleClientMessage(msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.subscriptions[msg.Topic] = true
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, msg.Topic)
		c.mu.Unlock()
	case "ping":
		heartbeat, _ := json.Marshal(Message{Type: Heartbeat, Timestamp: time.Now().UTC(), Data: json.RawMessage(`{"status":"alive"}`), ID: uuid.NewString()})
		c.trySend(heartbeat)
	}
}
