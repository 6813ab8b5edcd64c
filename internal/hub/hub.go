package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/dto"
	"github.com/msea200/clipshare/internal/repository"
	"github.com/msea200/clipshare/internal/service"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 单条消息上限，足够容纳一条长笔记
	maxMessageSize = 64 * 1024

	// 处理单条客户端消息的超时时间
	messageTimeout = 10 * time.Second
)

// Hub 内部通道的消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
	MessageClient     = "message"
)

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type     string  // register / unregister / message
	RoomCode string  // 房间码
	Client   *Client // 来源客户端
	RawData  []byte  // 仅用于 message (原始 WebSocket 消息)
}

// roomEntry 是一个房间在 Hub 中的状态：本地客户端集合和存储端频道的订阅
type roomEntry struct {
	clients map[*Client]bool
	sub     repository.RoomSubscription
}

// Hub 维护活跃客户端集合，并把存储端发布的房间事件转发给这些客户端。
// 每个有本地客户端的房间只持有一个频道订阅。
type Hub struct {
	messageChan chan HubMessage

	rooms   map[string]*roomEntry
	roomsMu sync.RWMutex

	collabService *service.CollaborationService
	bus           repository.RoomEventBus

	stopOnce sync.Once
	done     chan struct{}
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(collabService *service.CollaborationService, bus repository.RoomEventBus) *Hub {
	if collabService == nil {
		panic("CollaborationService cannot be nil for Hub")
	}
	if bus == nil {
		panic("RoomEventBus cannot be nil for Hub")
	}
	return &Hub{
		messageChan:   make(chan HubMessage, 512),
		rooms:         make(map[string]*roomEntry),
		collabService: collabService,
		bus:           bus,
		done:          make(chan struct{}),
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case MessageRegister:
				h.registerClient(msg.Client)
			case MessageUnregister:
				h.unregisterClient(msg.Client)
			case MessageClient:
				// 异步处理，避免存储端 IO 阻塞 Hub 主循环
				go h.handleClientMessage(msg)
			default:
				log.Warnf("Hub: Received unknown message type: %s in room %s", msg.Type, msg.RoomCode)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Stop 停止主循环，关闭所有频道订阅和客户端连接。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.roomsMu.Lock()
		defer h.roomsMu.Unlock()
		for code, entry := range h.rooms {
			if entry.sub != nil {
				_ = entry.sub.Close()
			}
			for client := range entry.clients {
				close(client.send)
				client.CloseConn()
			}
			delete(h.rooms, code)
		}
		logrus.Info("Hub: all room subscriptions closed")
	})
}

// registerClient 处理客户端注册，房间的第一个客户端会触发频道订阅
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	code := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": code,
		"user_id":   client.UserID(),
		"action":    "registerClient",
	})

	h.roomsMu.Lock()
	entry, ok := h.rooms[code]
	if !ok {
		sub, err := h.bus.Subscribe(context.Background(), code)
		if err != nil {
			h.roomsMu.Unlock()
			logCtx.WithError(err).Error("Failed to subscribe to room channel")
			client.CloseConn()
			return
		}
		entry = &roomEntry{clients: make(map[*Client]bool), sub: sub}
		h.rooms[code] = entry
		go h.forwardEvents(code, sub)
		logCtx.Info("Room channel subscribed")
	}
	entry.clients[client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	// 订阅建立之后再读取快照，确保快照之后的变更都能收到
	go h.sendInitialSnapshot(client)
}

// unregisterClient 处理客户端注销，房间最后一个客户端离开时取消订阅
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	code := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": code,
		"user_id":   client.UserID(),
		"action":    "unregisterClient",
	})

	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	entry, ok := h.rooms[code]
	if !ok || !entry.clients[client] {
		logCtx.Debug("Client not registered, nothing to do")
		return
	}
	delete(entry.clients, client)
	// 关闭此客户端的 send 通道，这将导致其 WritePump 退出
	close(client.send)

	if len(entry.clients) == 0 {
		if err := entry.sub.Close(); err != nil {
			logCtx.WithError(err).Warn("Failed to close room subscription")
		}
		delete(h.rooms, code)
		logCtx.Info("Room empty, subscription closed")
	}
	logCtx.Info("Client unregistered from Hub")
}

// forwardEvents 将房间频道上的事件广播给该房间的所有本地客户端（包括写入者本身）
func (h *Hub) forwardEvents(code string, sub repository.RoomSubscription) {
	logCtx := logrus.WithField("room_code", code)
	for event := range sub.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			logCtx.WithError(err).Error("Failed to marshal room event")
			continue
		}
		h.broadcast(code, payload)
		if event.Type == domain.EventRoomDeleted {
			logCtx.Info("Room deleted, clients notified")
		}
	}
	logCtx.Debug("Room event forwarding stopped")
}

// sendInitialSnapshot 异步获取并发送快照给新连接的客户端
func (h *Hub) sendInitialSnapshot(client *Client) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"user_id":   client.UserID(),
		"operation": "sendInitialSnapshot",
	})

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()
	room, err := h.collabService.Snapshot(ctx, client.RoomCode())
	if err != nil {
		logCtx.WithError(err).Warn("Failed to load room snapshot")
		h.sendError(client, err)
		return
	}

	payload, err := json.Marshal(dto.SnapshotDTO{Type: dto.MessageSnapshot, Room: dto.NewRoomPayload(room)})
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal snapshot message")
		return
	}
	if h.sendTo(client, payload) {
		logCtx.Debug("Snapshot message sent to client channel")
	}
}

// handleClientMessage 异步处理客户端发送的写操作，失败时只通知发送者
func (h *Hub) handleClientMessage(msg HubMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	err := h.collabService.ProcessIncomingMessage(ctx, msg.RoomCode, msg.Client.Identity(), msg.RawData)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"room_code": msg.RoomCode,
			"user_id":   msg.Client.UserID(),
		}).WithError(err).Debug("Client message failed")
		h.sendError(msg.Client, err)
	}
}

func (h *Hub) sendError(client *Client, err error) {
	message := "Internal server error"
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		message = "Room not found"
	case errors.Is(err, service.ErrRoomExpired):
		message = "Room has expired"
	case errors.Is(err, service.ErrInvalidMessage), errors.Is(err, service.ErrEmptyNote), errors.Is(err, service.ErrInvalidRoomCode):
		message = err.Error()
	}
	payload, _ := json.Marshal(dto.ErrorDTO{Type: dto.MessageError, Message: message})
	h.sendTo(client, payload)
}

// broadcast 将消息发送给指定房间的所有客户端。
// 发送在读锁内完成，保证不会写入已被 unregister 关闭的通道。
func (h *Hub) broadcast(code string, message []byte) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()

	entry, ok := h.rooms[code]
	if !ok {
		return
	}
	for client := range entry.clients {
		// 非阻塞发送，避免单个慢客户端阻塞广播
		select {
		case client.send <- message:
		default:
			logrus.WithFields(logrus.Fields{
				"room_code": code,
				"user_id":   client.UserID(),
			}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// sendTo 向仍处于注册状态的单个客户端发送消息
func (h *Hub) sendTo(client *Client, message []byte) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()

	entry, ok := h.rooms[client.RoomCode()]
	if !ok || !entry.clients[client] {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		logrus.WithField("room_code", client.RoomCode()).Warn("Client send channel full, message dropped")
		return false
	}
}

// --- 公共方法 ---

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 false 表示队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"room_code":    msg.RoomCode,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ClientCount 返回房间当前的本地客户端数量。
func (h *Hub) ClientCount(code string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if entry, ok := h.rooms[code]; ok {
		return len(entry.clients)
	}
	return 0
}
