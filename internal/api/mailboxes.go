package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/propsrc/internal/mailbox"
)

type authorizeRequest struct {
	Provider  string `json:"provider"`
	Purpose   string `json:"purpose"`
	Frequency *int   `json:"frequency"`
}

type deactivateRequest struct {
	Reason string `json:"reason"`
}

// connectionView is the public form of a connection. Tokens are never exposed.
type connectionView struct {
	ID               string     `json:"id"`
	OrganizationID   string     `json:"organization_id"`
	Email            string     `json:"email"`
	Provider         string     `json:"provider"`
	Purpose          string     `json:"purpose,omitempty"`
	Frequency        *int       `json:"frequency"`
	Active           bool       `json:"active"`
	WatchExpiration  *time.Time `json:"watch_expiration,omitempty"`
	DisconnectReason string     `json:"disconnect_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toView(c mailbox.Connection) connectionView {
	v := connectionView{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Email:          c.Email,
		Provider:       string(c.Provider),
		Purpose:        string(c.Purpose),
		Frequency:      c.Frequency,
		Active:         c.Active(),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.State != nil {
		if exp := c.State.Watch().Expiration; !exp.IsZero() {
			v.WatchExpiration = &exp
		}
	}
	if d, ok := c.State.(mailbox.Disconnected); ok {
		v.DisconnectReason = d.Reason
	}
	return v
}

type callbackResponse struct {
	ConnectionID string           `json:"connection_id"`
	Email        string           `json:"email"`
	Metadata     mailbox.Metadata `json:"metadata"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
}

func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.mailboxes.Providers()})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	provider, err := mailbox.ParseProvider(req.Provider)
	if err != nil {
		s.fail(w, r, "authorize", err)
		return
	}
	purpose, err := mailbox.ParsePurpose(req.Purpose)
	if err != nil {
		s.fail(w, r, "authorize", err)
		return
	}
	authURL, err := s.mailboxes.GenerateAuthorizationURL(mailbox.Metadata{
		OrganizationID: chi.URLParam(r, "org_id"),
		Purpose:        purpose,
		Frequency:      req.Frequency,
		Provider:       provider,
	})
	if err != nil {
		s.fail(w, r, "authorize", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

func (s *Server) completeAuthorization(w http.ResponseWriter, r *http.Request) {
	provider, err := mailbox.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.fail(w, r, "authorization callback", err)
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+denied)
		return
	}
	auth, err := s.mailboxes.CompleteAuthorization(
		r.Context(),
		provider,
		q.Get("code"),
		q.Get("state"),
		strings.TrimSpace(r.Header.Get(OrganizationHeader)),
	)
	if err != nil {
		s.fail(w, r, "authorization callback", err)
		return
	}
	resp := callbackResponse{
		ConnectionID: auth.Connection.ID,
		Email:        auth.Email,
		Metadata:     auth.Metadata,
	}
	if exp := auth.Credentials.ExpiresAt; !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.mailboxes.List(r.Context(), chi.URLParam(r, "org_id"))
	if err != nil {
		s.fail(w, r, "list connections", err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, toView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

func (s *Server) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.mailboxes.Get(r.Context(), chi.URLParam(r, "org_id"), emailParam(r))
	if err != nil {
		s.fail(w, r, "get connection", err)
		return
	}
	writeJSON(w, http.StatusOK, toView(conn))
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.mailboxes.Disconnect(r.Context(), chi.URLParam(r, "org_id"), emailParam(r)); err != nil {
		s.fail(w, r, "disconnect", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	conn, err := s.mailboxes.MarkDisconnected(r.Context(), chi.URLParam(r, "org_id"), emailParam(r), req.Reason)
	if err != nil {
		s.fail(w, r, "deactivate", err)
		return
	}
	writeJSON(w, http.StatusOK, toView(conn))
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}
