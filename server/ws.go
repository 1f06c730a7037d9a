package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/claimcheck/internal/models"
	"github.com/xhad/claimcheck/pkg/llm"
	"github.com/xhad/claimcheck/pkg/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a server-to-client frame. Type is one of "status", "result"
// or "error".
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// request is a client frame. An "extract" request carries one file or a
// URL in Content; a "compare" request carries the AR1 then the NF3 file.
type request struct {
	Type    string   `json:"type"`
	Kind    string   `json:"kind,omitempty"`
	Content string   `json:"content,omitempty"`
	Files   []wsFile `json:"files,omitempty"`
}

type wsFile struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.config.MaxUploadBytes * 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &wsConn{conn: conn}

	// Frames are handled one at a time. The reader stays at most one frame
	// ahead and cancels the in-flight request when the client goes away.
	frames := make(chan request)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("Error reading message", zap.Error(err))
				}
				return
			}
			select {
			case frames <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range frames {
		s.handleMessage(ctx, ws, req)
	}
}

func (s *Server) handleMessage(ctx context.Context, ws *wsConn, req request) {
	send := func(msg Message) {
		if err := ws.send(msg); err != nil {
			s.logger.Debug("Error sending message", zap.Error(err))
		}
	}
	sendError := func(err error) {
		msg := Message{Type: "error", Content: err.Error()}
		var respErr *llm.ResponseError
		if errors.As(err, &respErr) {
			msg.Content = parseFailure
			msg.Data = errorResponse{Error: parseFailure, Raw: respErr.Raw}
		}
		send(msg)
	}

	switch req.Type {
	case "extract":
		kind := models.DocumentKind(req.Kind)
		if kind == "" {
			kind = models.KindClaim
		}

		var up service.Upload
		switch {
		case len(req.Files) == 1:
			up = req.Files[0].upload()
		case req.Content != "":
			send(Message{Type: "status", Content: "Fetching " + req.Content})
			var err error
			if up, err = s.service.FetchUpload(ctx, req.Content); err != nil {
				sendError(err)
				return
			}
		default:
			send(Message{Type: "error", Content: extractPrompt})
			return
		}

		send(Message{Type: "status", Content: "Reading and analyzing..."})
		doc, err := s.service.ExtractDocument(ctx, up, kind)
		s.metrics.RecordExtraction(kind, err)
		if err != nil {
			sendError(err)
			return
		}
		send(Message{Type: "result", Content: doc.ID, Data: newDocumentResponse(doc)})

	case "compare":
		if len(req.Files) != 2 {
			send(Message{Type: "error", Content: comparePrompt})
			return
		}

		send(Message{Type: "status", Content: "Extracting data from both documents..."})
		cmp, err := s.service.Compare(ctx, req.Files[0].upload(), req.Files[1].upload())
		s.metrics.RecordComparison(cmp, err)
		if err != nil {
			sendError(err)
			return
		}
		send(Message{Type: "result", Content: cmp.ID, Data: newComparisonResponse(cmp)})

	default:
		send(Message{Type: "error", Content: "unknown message type: " + req.Type})
	}
}

func (f wsFile) upload() service.Upload {
	return service.Upload{Filename: f.Filename, Data: f.Data}
}
