package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kjk/treewalk/httputil"
	"github.com/kjk/treewalk/log"
	"github.com/kjk/treewalk/treestore"
)

// coord is a float that decodes from a JSON number or a string
// containing a number. Other shapes (null, bool, array, object,
// non-numeric string) leave it unset without failing the decode,
// so that a wrong type yields the "must be numeric" error rather
// than "Invalid JSON".
type coord struct {
	val float64
	ok  bool
}

func (c *coord) UnmarshalJSON(d []byte) error {
	var v any
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		c.val = v
		c.ok = true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			c.val = f
			c.ok = true
		}
	}
	return nil
}

type postTreeRequest struct {
	Lat     coord  `json:"lat"`
	Lon     coord  `json:"lon"`
	Species string `json:"species"`
	Notes   string `json:"notes"`
}

type postTreeResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	d, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(d)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleTrees(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetTrees(w, r)
	case http.MethodPost:
		s.handlePostTree(w, r)
	default:
		s.apiNotFound(w, r)
	}
}

// GET /api/trees
func (s *Server) handleGetTrees(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ReadAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []treestore.Row{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// POST /api/trees
func (s *Server) handlePostTree(w http.ResponseWriter, r *http.Request) {
	d, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	// the body must be a JSON object, not null / array / scalar
	trimmed := bytes.TrimSpace(d)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var req postTreeRequest
	if err = json.Unmarshal(trimmed, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !req.Lat.ok || !req.Lon.ok {
		respondError(w, http.StatusBadRequest, "lat and lon must be numeric")
		return
	}
	id, err := s.store.Append(req.Lat.val, req.Lon.val, req.Species, req.Notes)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Event("tree_added", "id", id, "species", req.Species, "ip", httputil.GetBestRemoteAddress(r))
	respondJSON(w, http.StatusCreated, postTreeResponse{Status: "success", ID: id})
}

func (s *Server) apiNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "Not found")
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	opts := &httputil.FileServeOpts{
		Dir:             s.staticDir,
		ServeCompressed: true,
	}
	if !httputil.TryServeFile(w, r, opts) {
		http.NotFound(w, r)
	}
}
