// Package realtime 会议房间事件推送（WebSocket），尽力而为
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/semaphore"

	"github.com/omniqr/scansuite/pkg/metrics"
)

// 事件名
const (
	EventFileAdded      = "file.added"
	EventFileVersioned  = "file.versioned"
	EventMeetingUpdated = "meeting.updated"
	EventScanUpdated    = "scan.updated"

	eventJoined = "meeting.joined"
	eventLeft   = "meeting.left"
	eventError  = "error"
)

// 客户端指令
const (
	CommandJoin  = "meeting.join"
	CommandLeave = "meeting.leave"
)

// ErrTooManyConnections 连接数达到上限
var ErrTooManyConnections = errors.New("too many realtime connections")

// Notifier 向会议房间广播事件；失败静默丢弃
type Notifier interface {
	Broadcast(ctx context.Context, meetingID, event string, payload interface{})
}

// Discard 丢弃全部事件，用于没有实时通道的进程
var Discard Notifier = discardNotifier{}

type discardNotifier struct{}

func (discardNotifier) Broadcast(context.Context, string, string, interface{}) {}

// Authorizer 判断当前连接能否加入指定会议房间
type Authorizer func(ctx context.Context, meetingID string) bool

// Message 服务端下发帧
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Command 客户端上行帧
type Command struct {
	Type      string `json:"type"`
	MeetingID string `json:"meetingId"`
}

// RoomName 会议房间名
func RoomName(meetingID string) string {
	return "meeting:" + meetingID
}

type subscriber struct {
	msgs      chan []byte
	closeSlow func()
}

// Hub 进程内房间注册表；配置 Relay 后经由 Relay 在多实例间扇出
type Hub struct {
	subscriberMessageBuffer int
	originPatterns          []string
	log                     *slog.Logger
	relay                   Relay
	conns                   *semaphore.Weighted

	mu    sync.Mutex
	rooms map[string]map[*subscriber]struct{}
}

// HubOption Hub 可选项
type HubOption func(*Hub)

// WithRelay 设置跨实例中继
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

// WithOriginPatterns 设置允许的跨域 Origin（host 模式）
func WithOriginPatterns(patterns []string) HubOption {
	return func(h *Hub) { h.originPatterns = patterns }
}

// WithMaxConnections 限制本进程同时保持的连接数，n <= 0 不限制
func WithMaxConnections(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.conns = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewHub 创建 Hub
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{
		subscriberMessageBuffer: 16,
		log:                     log.With("component", "realtime"),
		rooms:                   make(map[string]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run 启动中继订阅循环，未配置中继时直接等待 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, h.deliver)
}

// Broadcast 实现 Notifier
func (h *Hub) Broadcast(ctx context.Context, meetingID, event string, payload interface{}) {
	data, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		h.log.Warn("broadcast_marshal_failed", "event", event, "error", err)
		return
	}
	metrics.RecordBroadcast(event)

	room := RoomName(meetingID)
	if h.relay != nil {
		err := h.relay.Publish(ctx, room, data)
		if err == nil {
			return
		}
		h.log.Warn("relay_publish_failed", "room", room, "error", err)
	}
	h.deliver(room, data)
}

// deliver 投递到本进程内的房间成员，慢消费者被断开
func (h *Hub) deliver(room string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.rooms[room] {
		select {
		case s.msgs <- data:
		default:
			go s.closeSlow()
		}
	}
}

func (h *Hub) join(room string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*subscriber]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

func (h *Hub) leave(room string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize 房间内本地连接数
func (h *Hub) RoomSize(meetingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[RoomName(meetingID)])
}

// Serve 升级为 WebSocket 连接并处理 join/leave 指令，直到连接关闭
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, authorize Authorizer) error {
	if h.conns != nil {
		if !h.conns.TryAcquire(1) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return ErrTooManyConnections
		}
		defer h.conns.Release(1)
	}

	var mu sync.Mutex
	var c *websocket.Conn
	var closed bool
	s := &subscriber{
		msgs: make(chan []byte, h.subscriberMessageBuffer),
		closeSlow: func() {
			mu.Lock()
			defer mu.Unlock()
			closed = true
			if c != nil {
				c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
			}
		},
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return err
	}
	mu.Lock()
	if closed {
		mu.Unlock()
		return net.ErrClosed
	}
	c = conn
	mu.Unlock()
	defer c.CloseNow()

	metrics.SocketConnected(1)
	defer metrics.SocketConnected(-1)

	joined := make(map[string]struct{})
	var joinedMu sync.Mutex
	defer func() {
		joinedMu.Lock()
		defer joinedMu.Unlock()
		for room := range joined {
			h.leave(room, s)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 读循环：处理客户端指令，回执经由 msgs 与事件共用写循环
	go func() {
		defer cancel()
		for {
			var cmd Command
			if err := wsjson.Read(ctx, c, &cmd); err != nil {
				return
			}
			reply := h.handleCommand(ctx, cmd, s, authorize, joined, &joinedMu)
			data, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case s.msgs <- data:
			default:
				go s.closeSlow()
			}
		}
	}()

	for {
		select {
		case msg := <-s.msgs:
			if err := writeTimeout(ctx, 5*time.Second, c, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

func (h *Hub) handleCommand(ctx context.Context, cmd Command, s *subscriber, authorize Authorizer, joined map[string]struct{}, mu *sync.Mutex) Message {
	if cmd.MeetingID == "" {
		return Message{Event: eventError, Payload: map[string]string{"message": "meetingId is required"}}
	}
	room := RoomName(cmd.MeetingID)

	switch cmd.Type {
	case CommandJoin:
		if authorize == nil || !authorize(ctx, cmd.MeetingID) {
			return Message{Event: eventError, Payload: map[string]string{"message": "forbidden", "meetingId": cmd.MeetingID}}
		}
		h.join(room, s)
		mu.Lock()
		joined[room] = struct{}{}
		mu.Unlock()
		return Message{Event: eventJoined, Payload: map[string]string{"meetingId": cmd.MeetingID}}
	case CommandLeave:
		h.leave(room, s)
		mu.Lock()
		delete(joined, room)
		mu.Unlock()
		return Message{Event: eventLeft, Payload: map[string]string{"meetingId": cmd.MeetingID}}
	default:
		return Message{Event: eventError, Payload: map[string]string{"message": "unknown command"}}
	}
}

func writeTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, msg)
}
