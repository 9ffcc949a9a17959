package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/provenance_layer/internal/app/metrics"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	apperrors "github.com/R3E-Network/provenance_layer/internal/errors"
	"github.com/R3E-Network/provenance_layer/internal/httputil"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
	streamBuffer     = 256
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *handler) eventRoutes(r *mux.Router) {
	r.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/ws", h.streamEvents).Methods(http.MethodGet)
}

// eventFilter builds a filter from the type and entity query parameters.
// type accepts a comma separated list.
func eventFilter(r *http.Request) events.Filter {
	var types []events.Type
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, events.Type(t))
		}
	}
	entity := r.URL.Query().Get("entity")

	byType := events.OfTypes(types...)
	return func(rec events.Record) bool {
		if len(types) > 0 && !byType(rec) {
			return false
		}
		return entity == "" || rec.EntityID == entity
	}
}

func parseAfter(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.InvalidArgument("after", "must be a sequence number")
	}
	return after, nil
}

// listEvents pages through the committed event log, oldest first.
func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	after, err := parseAfter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultEventPage)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	page, err := h.app.Engine.Events(r.Context(), after, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	keep := eventFilter(r)
	out := make([]events.Record, 0, len(page))
	for _, rec := range page {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	var next uint64
	if len(page) > 0 {
		next = page[len(page)-1].Seq
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}

// streamEvents upgrades to a websocket and pushes matching records as they
// commit. With after set, the log is replayed from that sequence first.
// Slow clients are disconnected when their buffer fills.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	after, err := parseAfter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	keep := eventFilter(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the handshake completes so nothing committed after
	// the client sees the upgrade is missed.
	live := make(chan events.Record, streamBuffer)
	unsubscribe := h.app.Events.SubscribeFiltered(keep, func(rec events.Record) {
		select {
		case live <- rec:
		default:
			cancel()
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()
	metrics.StreamClientConnected()
	defer metrics.StreamClientDisconnected()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := after
	if after > 0 {
		for {
			page, err := h.app.Engine.Events(ctx, last, maxEventPage)
			if err != nil {
				h.log.WithError(err).Warn("event replay failed")
				return
			}
			for _, rec := range page {
				last = rec.Seq
				if keep(rec) && !h.send(conn, rec) {
					return
				}
			}
			if len(page) < maxEventPage {
				break
			}
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case rec := <-live:
			if rec.Seq <= last {
				continue
			}
			last = rec.Seq
			if !h.send(conn, rec) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *handler) send(conn *websocket.Conn, rec events.Record) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(rec); err != nil {
		h.log.WithError(err).Debug("websocket write failed")
		return false
	}
	return true
}
