// Package bridge accepts telemetry over HTTP for producers that cannot reach
// the bus directly. Messages take the same handler path as bus records, with
// one difference: a position report is attributed once, to the plate it
// arrived with, never duplicated for the trailer.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"truck-telemetryv1/internal/model"
)

// Dispatcher is the handler subset the bridge invokes.
type Dispatcher interface {
	HandleGPS(ctx context.Context, m *model.GPSMessage) error
	HandleSensor(ctx context.Context, m *model.SensorMessage) error
	HandleLoad(ctx context.Context, m *model.LoadMessage) error
}

// Bridge is the HTTP ingress handler.
type Bridge struct {
	dispatcher Dispatcher
}

// New creates a Bridge over the given dispatcher.
func New(d Dispatcher) *Bridge {
	return &Bridge{dispatcher: d}
}

type inboundRequest struct {
	Message string `json:"message"`
}

type inboundResponse struct {
	Status      string     `json:"status"`
	MessageType model.Kind `json:"message_type"`
}

// ServeHTTP handles POST /api/messages. The body wraps the raw event JSON in
// a "message" string field.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	raw := []byte(req.Message)
	kind := model.Classify(raw)

	var err error
	switch kind {
	case model.KindGPS:
		var m model.GPSMessage
		if err = json.Unmarshal(raw, &m); err == nil {
			err = b.dispatcher.HandleGPS(r.Context(), &m)
		}
	case model.KindSensor:
		var m model.SensorMessage
		if err = json.Unmarshal(raw, &m); err == nil {
			err = b.dispatcher.HandleSensor(r.Context(), &m)
		}
	case model.KindLoad:
		var m model.LoadMessage
		if err = json.Unmarshal(raw, &m); err == nil {
			err = b.dispatcher.HandleLoad(r.Context(), &m)
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized message type"})
		return
	}

	if err != nil {
		log.Printf("[bridge] %s message failed: %v", kind, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, inboundResponse{Status: "success", MessageType: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(body)
}
