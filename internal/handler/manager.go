package handler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storyboard-server/internal/store"
)

// Client - одно WebSocket соединение.
type Client struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	send chan []byte
}

// NewClient создает клиента с буферизованной очередью отправки.
func NewClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{ID: uuid.New(), Conn: conn, send: make(chan []byte, buffer)}
}

// ConnectionManager рассылает события стора всем подключенным клиентам.
type ConnectionManager struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]*Client
	snapshot func() store.Snapshot
	baseURL  string
	logger   *zap.Logger
}

// NewConnectionManager создает менеджер. snapshot дает начальное состояние для новых клиентов.
func NewConnectionManager(snapshot func() store.Snapshot, baseURL string, logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients:  make(map[uuid.UUID]*Client),
		snapshot: snapshot,
		baseURL:  baseURL,
		logger:   logger.Named("ConnectionManager"),
	}
}

// RegisterClient регистрирует клиента и ставит ему в очередь текущий снимок.
// Снимок берется под блокировкой рассылки: клиент не пропустит событий после снимка.
// Событие, опубликованное стором до снимка, еще может прийти следом и показать более старое состояние.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[client.ID] = client
	msg, err := json.Marshal(WSMessage{Type: "snapshot", Snapshot: toSnapshotResponse(m.snapshot(), m.baseURL)})
	if err != nil {
		m.logger.Error("Failed to marshal initial snapshot", zap.Error(err))
		return
	}
	client.send <- msg
	m.logger.Info("Client registered", zap.Stringer("client_id", client.ID), zap.Int("clients", len(m.clients)))
}

// UnregisterClient удаляет клиента и закрывает его очередь. Повторный вызов безопасен.
func (m *ConnectionManager) UnregisterClient(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[id]
	if !ok {
		return
	}
	delete(m.clients, id)
	close(client.send)
	m.logger.Info("Client unregistered", zap.Stringer("client_id", id), zap.Int("clients", len(m.clients)))
}

// Broadcast ставит сообщение в очередь всем клиентам. Возвращает число клиентов, получивших его.
func (m *ConnectionManager) Broadcast(message []byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent := 0
	for id, client := range m.clients {
		select {
		case client.send <- message:
			sent++
		default:
			m.logger.Warn("Client send queue is full, message dropped", zap.Stringer("client_id", id))
		}
	}
	return sent
}

// ClientCount возвращает число подключенных клиентов.
func (m *ConnectionManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Run пересылает события в клиентов до отмены ctx или закрытия events.
func (m *ConnectionManager) Run(ctx context.Context, events <-chan store.Event) {
	m.logger.Info("ConnectionManager started")
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			m.logger.Info("ConnectionManager stopped")
			return
		case ev, ok := <-events:
			if !ok {
				m.closeAll()
				return
			}
			msg, err := json.Marshal(WSMessage{
				Type:     string(ev.Kind),
				SceneID:  ev.SceneID,
				Snapshot: toSnapshotResponse(ev.Snapshot, m.baseURL),
			})
			if err != nil {
				m.logger.Error("Failed to marshal store event", zap.Error(err))
				continue
			}
			m.Broadcast(msg)
		}
	}
}

func (m *ConnectionManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		delete(m.clients, id)
		close(client.send)
	}
}
