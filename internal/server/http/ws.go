package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nadeko0/wschat/internal/delivery"
	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/ws"
	"go.uber.org/zap"
)

// handleWS upgrades the request and hands the connection to the live server. Credentials are
// checked after the upgrade so that the client always learns why it was turned away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)

	conn, err := ws.Accept(w, r, ws.AcceptOptions{
		OriginPatterns: originHosts(s.opts.AllowedOrigins),
		ReadLimit:      s.opts.ReadLimit,
	})
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	// The legacy /ws/{user_id} form must name the token's own identity.
	if v, ok := mux.Vars(r)["user_id"]; ok {
		want, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || want <= 0 {
			s.log.Info("websocket path user invalid", zap.String("path_user", v))
			s.rejectWS(conn)
			return
		}
		got, err := s.verifier.Verify(token)
		if err == nil && got != want {
			s.log.Info("websocket identity mismatch", zap.Int64("path_user", want), zap.Int64("token_user", got))
			s.rejectWS(conn)
			return
		}
	}

	err = s.live.Serve(r.Context(), conn, token)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrUnauthorized):
		s.log.Debug("websocket rejected", zap.String("peer", r.RemoteAddr))
	default:
		s.log.Error("live channel failed", zap.Error(err))
	}
}

func (s *Server) rejectWS(conn *ws.Conn) {
	if err := conn.Close(delivery.CloseUnauthorized); err != nil && !ws.IsClosed(err) {
		s.log.Debug("websocket close", zap.Error(err))
	}
}
