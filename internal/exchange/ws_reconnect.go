package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spotarb/internal/metrics"
	"spotarb/pkg/utils"
)

// WSConfig - параметры соединения и переподключения
type WSConfig struct {
	// Начальная задержка перед переподключением, далее x2 до MaxDelay
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Максимальное количество попыток подряд (0 = бесконечно)
	MaxRetries     int
	ConnectTimeout time.Duration
	// Интервал ping и таймаут записи ping
	PingInterval time.Duration
	WriteTimeout time.Duration
	// Кадр без входящих данных дольше ReadTimeout считается обрывом
	ReadTimeout time.Duration
}

// DefaultWSConfig - 1s, 2s, 4s ... 30s без ограничения попыток
func DefaultWSConfig() WSConfig {
	return WSConfig{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    90 * time.Second,
	}
}

// wsState - состояние транспорта (не путать с ConnState шлюза)
type wsState int32

const (
	wsDisconnected wsState = iota
	wsConnecting
	wsConnected
	wsReconnecting
	wsClosed
)

func (s wsState) String() string {
	switch s {
	case wsDisconnected:
		return "disconnected"
	case wsConnecting:
		return "connecting"
	case wsConnected:
		return "connected"
	case wsReconnecting:
		return "reconnecting"
	case wsClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// wsHandlers - колбэки шлюза.
// Все три вызываются из горутины чтения этого соединения
// (OnConnect - до запуска readPump), поэтому состояние шлюза,
// которое они трогают, не требует блокировок.
type wsHandlers struct {
	OnMessage func([]byte)
	// OnConnect отправляет auth/subscribe; ошибка рвёт соединение
	OnConnect    func() error
	OnDisconnect func(error)
	// Heartbeat - прикладной ping (Bybit {"op":"ping"}); nil = control ping
	Heartbeat func() interface{}
}

// stream - транспорт шлюза; в тестах подменяется фейком
type stream interface {
	Connect(ctx context.Context) error
	SendJSON(v interface{}) error
	Close() error
}

// streamFactory создаёт транспорт для URL
type streamFactory func(name, url string, cfg WSConfig, h wsHandlers, log *utils.Logger) stream

func defaultStreamFactory(name, url string, cfg WSConfig, h wsHandlers, log *utils.Logger) stream {
	return newWSStream(name, url, cfg, h, log)
}

var errStreamClosed = errors.New("stream is closed")

// wsStream - WebSocket с автоматическим переподключением.
//
// 1. newWSStream(...) с колбэками шлюза
// 2. Connect(ctx) - dial, OnConnect, затем readPump/pingPump
// 3. SendJSON - потокобезопасная запись
// 4. Close
//
// При обрыве: OnDisconnect, затем reconnectLoop с exponential backoff,
// после успешного dial снова OnConnect (шлюз переподписывается сам).
type wsStream struct {
	name string
	url  string
	cfg  WSConfig
	h    wsHandlers
	log  *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex
	// gorilla/websocket допускает одного писателя
	writeMu sync.Mutex

	state      atomic.Int32 // wsState
	retryCount atomic.Int32

	closeChan chan struct{}
	closeOnce sync.Once
}

func newWSStream(name, url string, cfg WSConfig, h wsHandlers, log *utils.Logger) *wsStream {
	if log == nil {
		log = utils.L()
	}
	return &wsStream{
		name:      name,
		url:       url,
		cfg:       cfg,
		h:         h,
		log:       log.With(zap.String("stream", url)),
		closeChan: make(chan struct{}),
	}
}

func (m *wsStream) getState() wsState {
	return wsState(m.state.Load())
}

func (m *wsStream) isClosed() bool {
	select {
	case <-m.closeChan:
		return true
	default:
		return false
	}
}

// Connect выполняет первое подключение.
// Если dial не удался, переподключение продолжается в фоне,
// а ошибка возвращается вызывающему для логирования.
func (m *wsStream) Connect(ctx context.Context) error {
	if m.isClosed() {
		return errStreamClosed
	}

	m.state.Store(int32(wsConnecting))
	if err := m.dial(ctx); err != nil {
		m.state.Store(int32(wsReconnecting))
		go m.reconnectLoop()
		return err
	}
	return nil
}

// dial подключается, вызывает OnConnect и запускает насосы
func (m *wsStream) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()
	m.state.Store(int32(wsConnected))
	m.retryCount.Store(0)

	if m.h.OnConnect != nil {
		if err := m.h.OnConnect(); err != nil {
			m.dropConn()
			m.state.Store(int32(wsDisconnected))
			return fmt.Errorf("on connect: %w", err)
		}
	}

	go m.readPump(conn)
	go m.pingPump(conn)

	m.log.Info("websocket connected")
	return nil
}

func (m *wsStream) dropConn() {
	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()
}

// readPump - единственная горутина, доставляющая кадры шлюзу
func (m *wsStream) readPump(conn *websocket.Conn) {
	if m.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		})
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		if m.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		}
		if m.h.OnMessage != nil {
			m.h.OnMessage(message)
		}
	}
}

// pingPump держит соединение живым; при ошибке записи закрывает conn,
// readPump увидит ошибку чтения и обработает обрыв.
func (m *wsStream) pingPump(conn *websocket.Conn) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			current := m.conn
			m.connMu.RUnlock()
			if current != conn {
				return
			}

			var err error
			if m.h.Heartbeat != nil {
				err = m.writeJSON(conn, m.h.Heartbeat())
			} else {
				m.writeMu.Lock()
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout))
				m.writeMu.Unlock()
			}
			if err != nil {
				m.log.Warn("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// handleDisconnect вызывается из readPump
func (m *wsStream) handleDisconnect(conn *websocket.Conn, err error) {
	m.connMu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.connMu.Unlock()
	conn.Close()

	if m.isClosed() {
		return
	}
	m.state.Store(int32(wsReconnecting))

	if m.h.OnDisconnect != nil {
		m.h.OnDisconnect(err)
	}
	m.log.Warn("websocket disconnected", zap.Error(err))

	go m.reconnectLoop()
}

// reconnectLoop - exponential backoff до успешного dial или Close
func (m *wsStream) reconnectLoop() {
	delay := m.cfg.InitialDelay

	for {
		if m.isClosed() {
			return
		}

		attempt := m.retryCount.Add(1)
		if m.cfg.MaxRetries > 0 && int(attempt) > m.cfg.MaxRetries {
			m.log.Error("max reconnect attempts reached", zap.Int("attempts", m.cfg.MaxRetries))
			m.state.Store(int32(wsDisconnected))
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		metrics.RecordReconnect(m.name)
		if err := m.dial(context.Background()); err != nil {
			m.log.Warn("reconnect failed",
				zap.Int32("attempt", attempt),
				zap.Duration("next_delay", delay),
				zap.Error(err))
			delay *= 2
			if delay > m.cfg.MaxDelay {
				delay = m.cfg.MaxDelay
			}
			continue
		}
		return
	}
}

// SendJSON пишет кадр в текущее соединение
func (m *wsStream) SendJSON(v interface{}) error {
	if st := m.getState(); st != wsConnected {
		return fmt.Errorf("%w (state: %s)", ErrNotConnected, st)
	}
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return m.writeJSON(conn, v)
}

func (m *wsStream) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close останавливает переподключение и закрывает соединение
func (m *wsStream) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		m.state.Store(int32(wsClosed))

		m.connMu.Lock()
		defer m.connMu.Unlock()
		if m.conn != nil {
			m.writeMu.Lock()
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			m.writeMu.Unlock()
			err = m.conn.Close()
			m.conn = nil
		}
	})
	return err
}
