package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/storage"
	"github.com/michaelbrown/piston-go/piston"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client. Type is "execute" or "cancel".
type wsIncoming struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Request *piston.ExecuteRequest `json:"request,omitempty"`
}

// wsOutgoing is a message to the client. Type is "result" or "error".
type wsOutgoing struct {
	Type   string                  `json:"type"`
	ID     string                  `json:"id,omitempty"`
	RunID  string                  `json:"run_id,omitempty"`
	Result *piston.ExecuteResponse `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Kind   string                  `json:"kind,omitempty"`
}

// wsConn serializes writes to a connection.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *wsConn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("websocket marshal error", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write error", zap.Error(err))
	}
}

// handleWebSocket serves the execute channel. Executions run concurrently and
// each result is sent whole once the service returns it. Closing the
// connection cancels whatever is still running.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, logger: s.logger}
	connID := uuid.New().String()

	// Not derived from the request context, which ends with the upgrade.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Read loop
	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		key := connID + "/" + msg.ID
		switch {
		case msg.Type == "cancel" && msg.ID != "":
			if !s.executions.Remove(key) {
				c.writeJSON(wsOutgoing{Type: "error", ID: msg.ID, Error: "no such execution"})
			}
		case msg.Type == "execute" && msg.ID != "" && msg.Request != nil:
			// Reserved here so a repeated id is rejected before anything runs.
			execCtx, done, ok := s.executions.Reserve(ctx, key, msg.Request.Language)
			if !ok {
				c.writeJSON(wsOutgoing{Type: "error", ID: msg.ID, Error: "execution id already in use"})
				continue
			}
			wg.Add(1)
			go func(id string, req piston.ExecuteRequest) {
				defer wg.Done()
				defer done()
				s.processWebSocketExecute(ctx, execCtx, c, key, id, req)
			}(msg.ID, *msg.Request)
		default:
			c.writeJSON(wsOutgoing{Type: "error", ID: msg.ID, Error: "invalid message"})
		}
	}
}

func (s *Server) processWebSocketExecute(connCtx, ctx context.Context, c *wsConn, key, id string, req piston.ExecuteRequest) {
	res, err := s.run(ctx, key, storage.SourceWS, req)
	out := wsOutgoing{ID: id}
	if res != nil {
		out.RunID = res.RunID
	}

	if err != nil {
		if connCtx.Err() != nil {
			return
		}
		out.Type = "error"
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			out.Error = "cancelled"
		} else {
			_, out.Kind = classify(err)
			out.Error = err.Error()
		}
		c.writeJSON(out)
		return
	}

	out.Type = "result"
	out.Result = res.Response
	c.writeJSON(out)
}
