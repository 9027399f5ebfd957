package api

import (
	"net/http"
	"strings"
)

type resolveRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

func (s *Server) resolveLinks(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	res, err := s.resolver.Resolve(r.Context(), req.URL, strings.ToLower(strings.TrimSpace(req.Mode)))
	if err != nil {
		s.fail(w, r, "resolve links", err)
		return
	}
	if res.Links == nil {
		res.Links = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}
