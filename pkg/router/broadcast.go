package router

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster pushes cluster state to connected dashboard clients via WebSocket.
// Broadcast is the only writer to the connections.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
	}
}

// HandleWS is the WebSocket upgrade handler for /ws.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}

	n := b.add(conn)
	log.Printf("📊 Dashboard client connected (%d total)", n)

	// Read loop (to detect disconnect)
	go func() {
		defer func() {
			n := b.remove(conn)
			log.Printf("📊 Dashboard client disconnected (%d remain)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Clients returns the number of connected dashboard clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) add(conn *websocket.Conn) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[conn] = true
	return len(b.clients)
}

func (b *Broadcaster) remove(conn *websocket.Conn) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[conn] {
		delete(b.clients, conn)
		conn.Close()
	}
	return len(b.clients)
}

// ClusterState is the JSON payload pushed to the dashboard.
type ClusterState struct {
	Workers             []WorkerState    `json:"workers"`
	RoutingDistribution map[string]int64 `json:"routing_distribution"`
	TotalRequests       int64            `json:"total_requests"`
}

type WorkerState struct {
	ID                string  `json:"id"`
	Address           string  `json:"address"`
	Score             float64 `json:"score"`
	MemoryFreeMB      float64 `json:"memory_free_mb"`
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	DeviceUtilization float64 `json:"device_utilization"`
	QueueDepth        int32   `json:"queue_depth"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	CurrentBatch      int32   `json:"current_batch"`
	UniformBatches    int64   `json:"uniform_batches"`
	VariableBatches   int64   `json:"variable_batches"`
	BlocksLaunched    int64   `json:"blocks_launched"`
	Healthy           bool    `json:"healthy"`
}

// Broadcast sends the cluster state to all connected WebSocket clients.
// Clients that fail a write are dropped.
func (b *Broadcaster) Broadcast(state *ClusterState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}

	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.remove(conn)
		}
	}
}
