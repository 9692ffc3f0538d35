package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/rooms"
)

const closeAckWindow = time.Second

// handleWS upgrades the request and runs one connection until the client
// goes away or the registry shuts down. The credential may come with the
// upgrade request or as the first "auth" frame within the grace period.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "error", err, "remote_addr", remoteIP(r))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(s.ws.MaxMessageBytes)

	id, err := s.handshake(r, ws)
	if err != nil {
		observability.AuthFailures.Inc()
		s.logger.Info("ws_auth_failed", "error", err, "remote_addr", remoteIP(r))
		s.writeFrame(ws, models.Event{Name: models.EventError, Data: models.ErrorPayload{
			Code:    string(apperr.KindOf(err)),
			Message: apperr.PublicMessage(err),
			Event:   models.EventAuth,
		}})
		s.writeClose(ws, websocket.ClosePolicyViolation, "unauthenticated")
		return
	}

	c := rooms.NewConn(uuid.NewString(), id, s.ws.SendBuffer)
	if err := s.registry.Attach(c); err != nil {
		s.writeClose(ws, websocket.CloseGoingAway, "shutting down")
		return
	}
	log := s.logger.With("conn_id", c.ID(), "user_id", id.UserID, "role", id.Role)
	log.Info("ws_connected")

	// Queued ahead of any room traffic so it is always the first frame.
	_ = c.Send(models.Event{Name: models.EventAuthenticated, Data: models.AuthenticatedPayload{UserID: id.UserID, Role: id.Role}})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ws, c)
	}()

	s.readPump(r.Context(), ws, c)

	s.registry.Detach(c)
	c.Close()
	<-writerDone
	log.Info("ws_disconnected", "dropped_frames", c.Dropped())
}

func (s *Server) handshake(r *http.Request, ws *websocket.Conn) (models.Identity, error) {
	if cred, err := auth.FromRequest(r); err == nil {
		return s.auth.Authenticate(r.Context(), cred)
	}

	_ = ws.SetReadDeadline(time.Now().Add(s.ws.AuthGrace))
	defer ws.SetReadDeadline(time.Time{})
	mt, frame, err := ws.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.Identity{}, apperr.New(apperr.Unauthenticated, "authentication timed out")
		}
		return models.Identity{}, apperr.Wrap(apperr.Unauthenticated, "connection closed before auth", err)
	}
	if mt != websocket.TextMessage {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "auth frame required")
	}
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event != models.EventAuth {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "auth frame required")
	}
	var req models.AuthRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "auth frame required")
	}
	return s.auth.Authenticate(r.Context(), req.Token)
}

// readPump feeds inbound text frames to the router, one at a time, so
// events from a single connection are handled in arrival order.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, c *rooms.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(s.ws.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.ws.PongWait))
	})
	for {
		mt, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("ws_read_error", "conn_id", c.ID(), "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			_ = c.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{
				Code:    string(apperr.BadRequest),
				Message: "text frames only",
			}})
			continue
		}
		s.router.Dispatch(ctx, c, frame)
	}
}

// writePump is the only goroutine writing to ws after the handshake.
func (s *Server) writePump(ws *websocket.Conn, c *rooms.Conn) {
	ticker := time.NewTicker(s.ws.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.ws.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Unblocks readPump so the connection is torn down.
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.ws.WriteWait)); err != nil {
				_ = ws.Close()
				return
			}
		case <-c.Done():
			s.writeClose(ws, websocket.CloseNormalClosure, "")
			_ = ws.Close()
			return
		}
	}
}

func (s *Server) writeFrame(ws *websocket.Conn, ev models.Event) {
	frame, err := ev.Encode()
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.ws.WriteWait))
	_ = ws.WriteMessage(websocket.TextMessage, frame)
}

func (s *Server) writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeAckWindow))
}
