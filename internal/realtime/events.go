package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sagaflow/internal/saga"
)

// PhaseEvent is the wire shape of one saga phase transition pushed to
// WebSocket subscribers.
type PhaseEvent struct {
	SagaID  string    `json:"saga_id"`
	OrderID string    `json:"order_id,omitempty"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// HubObserver forwards saga phase transitions to a Hub. Sends never
// block: if the hub cannot keep up, events are dropped rather than
// stalling the orchestrator.
type HubObserver struct {
	hub *Hub
	now func() time.Time
}

// NewHubObserver constructs an observer publishing to hub.
func NewHubObserver(hub *Hub) *HubObserver {
	return &HubObserver{hub: hub, now: time.Now}
}

func (o *HubObserver) Audit(e saga.AuditEvent) {
	if o == nil || o.hub == nil || e.Kind != saga.AuditPhaseChanged {
		return
	}
	event := PhaseEvent{
		SagaID:  e.SagaID,
		OrderID: e.OrderID,
		From:    string(e.From),
		To:      string(e.To),
		Detail:  e.Detail,
		At:      o.now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case o.hub.Broadcast <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and registers the connection with
// the hub. Incoming client messages are read and discarded so pings
// and close frames are handled.
func ServeWS(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register <- conn
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					hub.Unregister <- conn
					return
				}
			}
		}()
	})
}
