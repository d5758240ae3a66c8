package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"pathwatch/internal/logging"
	"pathwatch/internal/watcher"
)

const maxReplay = 10000

// EventsHandler streams watcher events as JSON over a websocket.
//
//	?ops=add,change  only these kinds ("all" is the five semantic kinds)
//	?replay=N        first send up to N recent events from history
type EventsHandler struct {
	Source         Source
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !validateToken(r, h.AuthToken) {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusUnauthorized, Message: "unauthorized"})
		return
	}
	ops, apiErr := parseOps(r.URL.Query().Get("ops"))
	if apiErr != nil {
		writeWSError(w, r, nil, h.Logger, wsError{Status: apiErr.Status, Message: apiErr.Message})
		return
	}
	replay := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("replay")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusBadRequest, Message: "invalid replay count"})
			return
		}
		replay = min(parsed, maxReplay)
	}
	if h.Source == nil || h.Source.State() == watcher.StateClosed {
		writeWSError(w, r, nil, h.Logger, wsError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		return
	}

	// Subscribe before reading history so nothing falls between the two.
	output, cancel := h.Source.Subscribe(ops...)
	defer cancel()
	var backlog []watcher.Event
	if replay > 0 {
		backlog = filterHistory(h.Source.History(replay), ops)
	}
	replayed := make(map[string]struct{}, len(backlog))
	for _, event := range backlog {
		replayed[eventKey(event)] = struct{}{}
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	h.Logger.Debug("event stream opened", map[string]string{
		"remote_addr": r.RemoteAddr,
		"replay":      strconv.Itoa(len(backlog)),
	})

	serveWSStream(r, h.Logger, wsStreamConfig[watcher.Event]{
		Conn:   conn,
		Output: output,
		PreWrite: func(conn *websocket.Conn) error {
			for _, event := range backlog {
				if err := conn.WriteJSON(event); err != nil {
					return err
				}
			}
			return nil
		},
		BuildPayload: func(event watcher.Event) (any, bool) {
			if len(replayed) > 0 {
				key := eventKey(event)
				if _, seen := replayed[key]; seen {
					delete(replayed, key)
					return nil, false
				}
			}
			return event, true
		},
	})
}

func filterHistory(history []watcher.Event, ops []watcher.Op) []watcher.Event {
	if len(ops) == 0 {
		return history
	}
	wanted := map[watcher.Op]struct{}{}
	for _, op := range ops {
		if op == watcher.OpAll {
			for _, semantic := range watcher.SemanticOps {
				wanted[semantic] = struct{}{}
			}
			continue
		}
		wanted[op] = struct{}{}
	}
	filtered := make([]watcher.Event, 0, len(history))
	for _, event := range history {
		if _, ok := wanted[event.Op]; ok {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func eventKey(event watcher.Event) string {
	return string(event.Op) + "\x00" + event.Path + "\x00" + strconv.FormatInt(event.Time.UnixNano(), 10)
}
