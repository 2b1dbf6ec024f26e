// Package websocket раздаёт события демона (сделки, ордера, переводы)
// подключённым дашбордам через WebSocket.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"spotarb/internal/bus"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBufferSize = 256

// Типы сообщений потока
const (
	MessageDeal     = "deal"
	MessageOrder    = "order"
	MessageTransfer = "transfer"
)

// StreamMessage - кадр, уходящий клиенту
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub управляет всеми активными WebSocket соединениями.
//
// Сообщения сериализуются один раз в Broadcast и раздаются клиентам
// из горутины Run. Broadcast не блокирует: шина и движок не должны
// ждать медленный дашборд. При переполнении сообщение теряется,
// медленный клиент отключается.
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	// закрывается при выходе из Run
	done chan struct{}

	checkOrigin func(*http.Request) bool
	dropped     atomic.Int64
	log         *utils.Logger
}

// NewHub создает новый Hub. checkOrigin == nil разрешает любой Origin.
func NewHub(checkOrigin func(*http.Request) bool, log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:     make(map[*Client]struct{}),
		broadcast:   make(chan []byte, broadcastBufferSize),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		checkOrigin: checkOrigin,
		log:         log.WithComponent("ws-hub"),
	}
}

// Run - главный цикл до отмены контекста. При выходе все клиенты закрываются.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.removeClients(client)

		case message := <-h.broadcast:
			// копируем список под коротким RLock, отправляем без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			if len(slow) > 0 {
				h.removeClients(slow...)
				h.log.Warn("removed slow clients", utils.Int("count", len(slow)))
			}
		}
	}
}

func (h *Hub) removeClients(clients ...*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// Attach подписывает hub на ордера и переводы шины
func (h *Hub) Attach(b *bus.Bus) {
	b.Subscribe(models.KindOrder, h.HandleEvent)
	b.Subscribe(models.KindTransfer, h.HandleEvent)
}

func (h *Hub) HandleEvent(ev models.Event) {
	switch ev.Kind() {
	case models.KindOrder:
		h.Broadcast(StreamMessage{Type: MessageOrder, Data: ev})
	case models.KindTransfer:
		h.Broadcast(StreamMessage{Type: MessageTransfer, Data: ev})
	}
}

// ObserveDeal - наблюдатель движка (Engine.OnDeal)
func (h *Hub) ObserveDeal(d models.Deal) {
	h.Broadcast(StreamMessage{Type: MessageDeal, Data: d})
}

// Broadcast сериализует сообщение и ставит его в очередь раздачи
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько сообщений потеряно при переполнении очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
