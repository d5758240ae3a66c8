package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pathwatch/internal/logging"
	"pathwatch/internal/watcher"
)

type RestHandler struct {
	Source Source
	Logger *logging.Logger
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

type healthResponse struct {
	State   string `json:"state"`
	Session string `json:"session,omitempty"`
}

type watchedResponse struct {
	Directories map[string][]string `json:"directories"`
	Count       int                 `json:"count"`
}

func (h *RestHandler) handleHealth(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Source == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "watcher unavailable"}
	}
	state := h.Source.State()
	status := http.StatusOK
	if state == watcher.StateClosed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{State: state.String(), Session: h.Source.Session()})
	return nil
}

// handleWatched returns GetWatched, optionally narrowed to the directories
// under ?dir=.
func (h *RestHandler) handleWatched(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Source == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "watcher unavailable"}
	}
	watched := h.Source.GetWatched()
	if dir := strings.TrimSpace(r.URL.Query().Get("dir")); dir != "" {
		narrowed := map[string][]string{}
		for key, names := range watched {
			if key == dir || strings.HasPrefix(key, strings.TrimSuffix(dir, "/")+"/") {
				narrowed[key] = names
			}
		}
		if len(narrowed) == 0 {
			return &apiError{Status: http.StatusNotFound, Message: "directory not watched"}
		}
		watched = narrowed
	}
	count := 0
	for _, names := range watched {
		count += len(names)
	}
	writeJSON(w, http.StatusOK, watchedResponse{Directories: watched, Count: count})
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, h.Logger.Buffer().Query(query))
	return nil
}

func parseLogQuery(r *http.Request) (logging.Query, *apiError) {
	values := r.URL.Query()
	query := logging.Query{Limit: 100, Category: strings.TrimSpace(values.Get("category"))}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}
	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = parsed
	}
	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.MinLevel = level
	}
	return query, nil
}

// parseOps reads a comma separated ?ops= list. Empty selects everything.
func parseOps(raw string) ([]watcher.Op, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	known := map[watcher.Op]struct{}{
		watcher.OpAdd: {}, watcher.OpAddDir: {}, watcher.OpChange: {}, watcher.OpUnlink: {},
		watcher.OpUnlinkDir: {}, watcher.OpReady: {}, watcher.OpRaw: {}, watcher.OpError: {}, watcher.OpAll: {},
	}
	seen := map[watcher.Op]struct{}{}
	var ops []watcher.Op
	for _, part := range strings.Split(raw, ",") {
		op := watcher.Op(strings.TrimSpace(part))
		if op == "" {
			continue
		}
		if _, ok := known[op]; !ok {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "unknown op " + strconv.Quote(string(op))}
		}
		if _, dup := seen[op]; dup {
			continue
		}
		seen[op] = struct{}{}
		ops = append(ops, op)
	}
	return ops, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, err *apiError) {
	if err == nil {
		return
	}
	code := err.Code
	if code == "" {
		code = errorCodeForStatus(err.Status)
	}
	writeJSON(w, err.Status, errorResponse{Message: err.Message, Error: err.Message, Code: code})
}
