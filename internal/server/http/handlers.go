package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nadeko0/wschat/internal/convert"
	"github.com/nadeko0/wschat/internal/errs"
	"github.com/nadeko0/wschat/internal/model"
	"github.com/nadeko0/wschat/internal/service"
)

const maxBodyBytes = 1 << 20

func decodeCredentials(w http.ResponseWriter, r *http.Request) (convert.Credentials, bool) {
	var in convert.Credentials
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return convert.Credentials{}, false
	}
	return in, true
}

// setSession writes the session cookie. Production cookies are Secure and SameSite=Strict.
func (s *Server) setSession(w http.ResponseWriter, tok model.Tokens) {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    tok.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.opts.SessionTTL.Seconds()),
	}
	if s.opts.Production {
		c.SameSite = http.SameSiteStrictMode
	}
	http.SetCookie(w, c)
}

func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	tok, u, err := s.auth.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSession(w, tok)
	writeJSON(w, http.StatusOK, convert.ToUserDTO(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeCredentials(w, r)
	if !ok {
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), in.Username, in.Password, clientIP(r))
	if errors.Is(err, errs.ErrUnauthorized) {
		writeDetail(w, http.StatusBadRequest, "Invalid username or password")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSession(w, tok)
	writeJSON(w, http.StatusOK, convert.ToUserDTO(u))
}

func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.CheckSession(r.Context(), TokenFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUserDTO(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	if err := s.auth.Logout(r.Context(), uid); err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	s.clearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	p, err := s.users.Get(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToProfileDTO(p))
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	ps, err := s.users.Search(r.Context(), uid, r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToProfileDTOs(ps))
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	other, err := strconv.ParseInt(mux.Vars(r)["other_id"], 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	limit := service.DefaultConversationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}
	c, err := s.chat.Conversation(r.Context(), uid, other, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToConversationDTO(c))
}
