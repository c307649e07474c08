package fanout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ReportFunc handles inbound driver positions arriving over a socket.
type ReportFunc func(ctx context.Context, rep models.LocationReport) error

// Gateway bridges websocket connections onto the hub. Clients join and
// leave rooms with typed messages and receive room events as JSON.
type Gateway struct {
	Hub    *Hub
	Report ReportFunc
	Logger *slog.Logger
}

type clientMessage struct {
	Type      string  `json:"type"`
	BookingID string  `json:"booking_id,omitempty"`
	DriverID  string  `json:"driver_id,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
}

func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.Logger.Warn("ws upgrade failed", "error", err)
		return
	}
	// every connection sees the global feed; rooms are joined on demand
	sub := g.Hub.Subscribe(TopicGlobal)
	go g.writePump(conn, sub)
	go g.readPump(conn, sub)
}

func (g *Gateway) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		g.Hub.Unsubscribe(sub)
		_ = conn.Close()
	}()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.Logger.Warn("ws read error", "error", err)
			}
			return
		}
		switch msg.Type {
		case "joinBookingRoom":
			g.Hub.Join(sub, BookingTopic(msg.BookingID))
		case "leaveBookingRoom":
			g.Hub.Leave(sub, BookingTopic(msg.BookingID))
		case "driverConnect":
			g.Hub.Join(sub, DriverTopic(msg.DriverID))
		case "driverLocation":
			if g.Report == nil {
				continue
			}
			rep := models.LocationReport{DriverID: msg.DriverID, BookingID: msg.BookingID, Lat: msg.Lat, Lng: msg.Lng}
			if err := g.Report(context.Background(), rep); err != nil {
				g.Logger.Warn("ws location report rejected", "driver_id", msg.DriverID, "error", err)
			}
		default:
			g.Logger.Debug("ws unknown message type", "type", msg.Type)
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
