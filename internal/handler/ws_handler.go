package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время на запись сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания следующего pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов. Должен быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не присылает, кроме управляющих фреймов.
	maxMessageSize = 512
	// Размер очереди отправки одного клиента.
	sendBuffer = 256
)

// WebSocketHandler обрабатывает подключения к /ws.
type WebSocketHandler struct {
	manager  *ConnectionManager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler создает обработчик. Пустой allowedOrigins или "*" разрешает любой Origin.
func NewWebSocketHandler(manager *ConnectionManager, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowAll || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger: logger.Named("WebSocketHandler"),
	}
}

// RegisterRoutes регистрирует /ws.
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.ServeWS)
}

// ServeWS обновляет соединение до WebSocket и запускает насосы чтения и записи.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже ответил клиенту
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(conn, sendBuffer)
	log := h.logger.With(zap.Stringer("client_id", client.ID))
	log.Info("WebSocket connection established", zap.String("remote_addr", c.Request.RemoteAddr))

	h.manager.RegisterClient(client)

	go client.writePump(log)
	go client.readPump(h.manager, log)
}

// readPump читает управляющие фреймы, пока соединение живо.
func (c *Client) readPump(manager *ConnectionManager, logger *zap.Logger) {
	defer func() {
		manager.UnregisterClient(c.ID)
		_ = c.Conn.Close()
		logger.Debug("readPump finished")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			} else {
				logger.Info("WebSocket connection closed")
			}
			return
		}
		logger.Debug("Unexpected message from client ignored", zap.Int("size", len(message)))
	}
}

// writePump пишет сообщения из очереди по одному фрейму на сообщение и шлет пинги.
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		logger.Debug("writePump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
