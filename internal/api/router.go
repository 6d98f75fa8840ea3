// Package api wires the HTTP surface: WebSocket subscriptions, bootstrap
// snapshots, the ingress bridge, and health.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"truck-telemetryv1/internal/bootstrap"
	"truck-telemetryv1/internal/hub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the HTTP mux over the hub, the snapshot service and the
// ingress bridge.
type Router struct {
	hub    *hub.Hub
	boot   *bootstrap.Service
	bridge http.Handler
}

// New creates a Router.
func New(h *hub.Hub, boot *bootstrap.Service, bridge http.Handler) *Router {
	return &Router{hub: h, boot: boot, bridge: bridge}
}

// Mux returns the configured request mux.
func (rt *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	for _, stream := range []string{
		hub.StreamGPS, hub.StreamSensor, hub.StreamLoad, hub.StreamAlerts, hub.StreamTest,
	} {
		stream := stream
		mux.HandleFunc("/ws/"+stream, func(w http.ResponseWriter, r *http.Request) {
			rt.handleWS(w, r, stream)
		})
	}

	mux.HandleFunc("/init/gps", rt.snapshotHandler(rt.boot.GPSSnapshot))
	mux.HandleFunc("/init/sensor", rt.snapshotHandler(rt.boot.SensorSnapshot))
	mux.HandleFunc("/init/load", rt.snapshotHandler(rt.boot.LoadSnapshot))
	mux.HandleFunc("/init/alerts", rt.snapshotHandler(rt.boot.AlertsSnapshot))

	mux.Handle("/api/messages", rt.bridge)

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// handleWS upgrades the connection and registers the subscriber with the
// filters from the query string: cid scopes to a company, pn to one plate.
func (rt *Router) handleWS(w http.ResponseWriter, r *http.Request, stream string) {
	companyID, hasCompany, ok := parseCompanyID(r)
	if !ok {
		http.Error(w, `{"error":"invalid cid"}`, http.StatusBadRequest)
		return
	}
	plate := strings.TrimSpace(r.URL.Query().Get("pn"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade failed on %s: %v", stream, err)
		return
	}

	cid := -1
	if hasCompany {
		cid = companyID
	}
	rt.hub.Attach(conn, stream, cid, plate)
}

type snapshotFunc func(ctx context.Context, p bootstrap.Params) ([]map[string]any, error)

func (rt *Router) snapshotHandler(query snapshotFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		companyID, hasCompany, ok := parseCompanyID(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cid"})
			return
		}
		q := r.URL.Query()
		p := bootstrap.Params{
			CompanyID:  companyID,
			HasCompany: hasCompany,
			Plate:      strings.TrimSpace(q.Get("licensePlateNumber")),
			Plates:     q["pn"],
		}
		docs, err := query(r.Context(), p)
		if err != nil {
			log.Printf("[api] snapshot failed on %s: %v", r.URL.Path, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(body)
}

func parseCompanyID(r *http.Request) (int, bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("cid"))
	if raw == "" {
		return 0, false, true
	}
	cid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, false
	}
	return cid, true, true
}
