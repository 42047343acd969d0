// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"courtside/internal/pkg/mq"
	"courtside/internal/service/reward/domain"
)

var (
	kafkaBrokers      = getEnv("KAFKA_BROKERS", "localhost:9092")
	notificationTopic = getEnv("NOTIFICATION_TOPIC", "reward-notifications")
	listenAddr        = getEnv("PUSH_GATEWAY_ADDR", ":8088")
	nodeID            = "push-gateway-" + uuid.New().String()[:8]
	upgrader          = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Hub 维护所有活跃的连接，按 UserID 定位客户端。
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.userID] = client
			h.lock.Unlock()
			log.Printf("Client %s registered on node %s", client.userID, nodeID)
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client.userID]; ok {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			log.Printf("Client %s unregistered.", client.userID)
		}
	}
}

// push 把消息投递给指定用户的本地连接；用户不在本节点时静默丢弃，
// 其他网关节点会覆盖自己的连接。
func (h *Hub) push(userID string, payload []byte) {
	h.lock.RLock()
	client, ok := h.clients[userID]
	h.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.send <- payload:
	default:
		// 发送缓冲已满，视为失联
		h.unregister <- client
	}
}

// Client 是一个 WebSocket 连接的代表。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 客户端只发心跳，读到任何错误即断开
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// consumeConfirmations 订阅确认事件并推送给本节点的在线用户。
// 每个网关节点使用自己专属的消费组，因此所有节点都能看到全量事件，
// 各自只负责推送自己持有的连接。
func consumeConfirmations(hub *Hub) {
	reader := mq.NewKafkaReader(strings.Split(kafkaBrokers, ","), notificationTopic, nodeID)
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("ERROR: could not read message: %v. Retrying...", err)
			time.Sleep(time.Second)
			continue
		}

		var event domain.RedemptionConfirmed
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("ERROR: failed to unmarshal confirmation event: %v", err)
			continue
		}
		hub.push(event.UserID, msg.Value)
	}
}

func main() {
	hub := newHub()
	go hub.run()
	go consumeConfirmations(hub)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	log.Printf("✅ Push Gateway (%s) started on %s", nodeID, listenAddr)
	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
