package websocket

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"spotarb/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// дашборд ничего не шлёт, кроме control-кадров
	maxMessageSize = 1024

	clientSendBufferSize = 512
)

// Client - одно подключение дашборда
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// ServeWS - GET /api/v1/stream
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    maxMessageSize,
		WriteBufferSize:   4096,
		CheckOrigin:       h.checkOrigin,
		EnableCompression: true,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой
		h.log.Debug("websocket upgrade failed", utils.String("remote", r.RemoteAddr), utils.Err(err))
		return
	}

	c := &Client{
		conn:   conn,
		send:   make(chan []byte, clientSendBufferSize),
		remote: r.RemoteAddr,
	}

	select {
	case h.register <- c:
	case <-h.done:
		closeFrame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop держит read deadline по pong и замечает отключение клиента
func (h *Hub) readLoop(c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", utils.String("remote", c.remote), utils.Err(err))
			}
			return
		}
		// входящие данные не используются
		if _, err := io.Copy(io.Discard, r); err != nil {
			return
		}
	}
}

// writeLoop - единственный писатель соединения: кадр на сообщение плюс ping
func (h *Hub) writeLoop(c *Client) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// hub отключил клиента
				c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
