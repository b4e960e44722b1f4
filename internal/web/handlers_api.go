package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"tuya-go-home/internal/device"
	"tuya-go-home/internal/store"
)

const deviceTimeout = 10 * time.Second

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.List()
	out := make([]device.Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.devices.Get(r.PathValue("id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, d.Snapshot())
}

// commandRequest addresses a command by its topic below the device base
// topic. Payload is either a JSON string, sent as is, or any other JSON
// value, sent as its encoding (for dps/cmnd bodies).
type commandRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (c commandRequest) payload() []byte {
	var str string
	if err := json.Unmarshal(c.Payload, &str); err == nil {
		return []byte(str)
	}
	return c.Payload
}

func (s *Server) handleAPICommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := s.devices.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}

	var req commandRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Topic == "" || len(req.Payload) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic and payload are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deviceTimeout)
	defer cancel()
	if err := d.Dispatch(ctx, req.Topic, req.payload()); err != nil {
		s.writeDeviceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := s.devices.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), deviceTimeout)
	defer cancel()
	if err := d.Refresh(ctx); err != nil {
		s.writeDeviceError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d.Snapshot())
}

// writeDeviceError maps device errors to status codes. Anything that is not
// a caller mistake is a failure talking to the device.
func (s *Server) writeDeviceError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, device.ErrInvalidCommand), errors.Is(err, device.ErrUnsupportedTopic):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, device.ErrNotActive):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("device command", "device", id, "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (s *Server) handleAPIListLayouts(w http.ResponseWriter, r *http.Request) {
	if s.layouts == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	recs, err := s.layouts.ListLayouts()
	if err != nil {
		s.logger.Error("list layouts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if recs == nil {
		recs = []*store.LayoutRecord{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

// handleAPIDeleteLayout forgets a probed layout so the device is probed
// again on its next start.
func (s *Server) handleAPIDeleteLayout(w http.ResponseWriter, r *http.Request) {
	if s.layouts == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "layout not found"})
		return
	}
	id := r.PathValue("id")
	err := s.layouts.DeleteLayout(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "layout not found"})
		return
	}
	if err != nil {
		s.logger.Error("delete layout", "device", id, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIListTemplates(w http.ResponseWriter, r *http.Request) {
	out := []*device.Template{}
	if s.templates != nil {
		for _, name := range s.templates.Names() {
			out = append(out, s.templates.Lookup(name))
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
