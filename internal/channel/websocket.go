package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"mediinterpret/internal/chat"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/metrics"
)

// WSMessage is the JSON protocol spoken over /ws. Clients send "send",
// "cancel" and "back"; the server answers with "status", "update", "done"
// and "error".
type WSMessage struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"` // consultation id
	Content    string         `json:"content,omitempty"`
	Attachment string         `json:"attachment,omitempty"` // data URL
	Name       string         `json:"name,omitempty"`
	Code       int            `json:"code,omitempty"`
	Update     *streamPayload `json:"update,omitempty"`
	Message    *messageView   `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// wsClient serialises writes to one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// handleWebSocket streams answers over a WebSocket for the consultation
// given by ?id= or the cookie. One question is answered at a time; "cancel"
// stops the current answer.
func (w *Web) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = consultationCookie(r)
	}
	if _, err := w.chat.Get(r.Context(), id); err != nil {
		w.writeError(rw, err)
		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(w.encoder.MaxBytes()*4/3 + maxBodySize)
	client := &wsClient{conn: conn}

	ctx, cancelAll := context.WithCancel(context.Background())
	var (
		mu         sync.Mutex
		cancelSend context.CancelFunc
		wg         sync.WaitGroup
	)
	defer func() {
		cancelAll()
		wg.Wait()
		conn.Close()
		w.logger.Info("websocket client disconnected", "id", id)
	}()

	w.logger.Info("websocket client connected", "id", id)
	client.send(WSMessage{Type: "status", Content: "connected", ID: id})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			w.logger.Warn("invalid websocket message", "err", err)
			client.send(WSMessage{Type: "error", Content: "invalid message", Code: http.StatusBadRequest})
			continue
		}

		switch in.Type {
		case "send":
			sendCtx, cancel := context.WithCancel(ctx)
			mu.Lock()
			if cancelSend != nil {
				mu.Unlock()
				cancel()
				client.send(WSMessage{Type: "error", ID: id, Content: chat.ErrBusy.Error(), Code: http.StatusConflict})
				continue
			}
			cancelSend = cancel
			mu.Unlock()

			wg.Add(1)
			go func(in WSMessage) {
				defer wg.Done()
				defer func() {
					mu.Lock()
					cancelSend = nil
					mu.Unlock()
					cancel()
				}()
				w.answerWS(sendCtx, client, id, in)
			}(in)

		case "cancel":
			mu.Lock()
			if cancelSend != nil {
				cancelSend()
			}
			mu.Unlock()

		case "back":
			w.chat.Back(id)
			client.send(WSMessage{Type: "status", Content: "closed", ID: id})
			return

		default:
			w.logger.Debug("ignored websocket message", "type", in.Type)
		}
	}
}

func (w *Web) answerWS(ctx context.Context, client *wsClient, id string, in WSMessage) {
	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	var att *domain.Attachment
	if in.Attachment != "" {
		a, err := w.encoder.FromDataURL(in.Name, in.Attachment)
		if err != nil {
			client.send(WSMessage{Type: "error", ID: id, Content: err.Error(), Code: statusOf(err)})
			return
		}
		att = a
	}

	msg, err := w.chat.Send(ctx, id, in.Content, att, func(u chat.Update) {
		p := streamPayloadOf(u)
		client.send(WSMessage{Type: "update", ID: id, Update: &p})
	})
	if err != nil {
		client.send(WSMessage{Type: "error", ID: id, Content: err.Error(), Code: statusOf(err)})
		return
	}

	view := w.messageViewOf(msg)
	typ := "done"
	if msg.IsError {
		typ = "error"
	}
	client.send(WSMessage{Type: typ, ID: id, Message: &view, Content: msg.Text})
}
