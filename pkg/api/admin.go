package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"meshnode/pkg/endpoint"
	"meshnode/pkg/model"
	"meshnode/pkg/peer"
	"meshnode/pkg/router"
)

const (
	msgPeerExists   = "A peer identified by that endpoint already exists"
	msgPeerNotFound = "A peer identified by that endpoint does not exist"

	defaultAuditLimit = 50
	maxBodyBytes      = 1 << 16
)

// AddPeerRequest is the body of POST /api/v1/admin/peers.
type AddPeerRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, Info{NodeSubnet: h.state.Router.NodeSubnet()})
}

func (h *handler) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	peers := h.state.Peers.Peers()
	if peers == nil {
		peers = []peer.Stats{}
	}
	h.writeJSON(w, http.StatusOK, peers)
}

// decodeJSON reads a bounded application/json body into v. On failure it
// writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		http.Error(w, "expected application/json", http.StatusUnsupportedMediaType)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handler) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req AddPeerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ep, err := endpoint.Parse(req.Endpoint)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.state.Peers.AddPeer(ep)
	switch {
	case errors.Is(err, peer.ErrPeerExists):
		http.Error(w, msgPeerExists, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("add peer failed", "endpoint", ep.String(), "error", err)
		http.Error(w, "failed to add peer", http.StatusInternalServerError)
		return
	}
	h.logger.Debug("peer added", "endpoint", ep.String(), "actor", actor(r))
	h.recordChange(r, model.ActionAddPeer, EventPeerAdded, ep)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeletePeer removes the peer named by the path. The path is cleaned
// before routing, so a "proto://" prefix must have its slashes escaped
// (quic:%2F%2F198.51.100.7:9651); bare "ip:port" means tcp.
func (h *handler) handleDeletePeer(w http.ResponseWriter, r *http.Request) {
	ep, err := endpoint.Parse(r.PathValue("endpoint"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.state.Peers.DeletePeer(ep)
	switch {
	case errors.Is(err, peer.ErrPeerNotFound):
		http.Error(w, msgPeerNotFound, http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("remove peer failed", "endpoint", ep.String(), "error", err)
		http.Error(w, "failed to remove peer", http.StatusInternalServerError)
		return
	}
	h.logger.Debug("peer removed", "endpoint", ep.String(), "actor", actor(r))
	h.recordChange(r, model.ActionRemovePeer, EventPeerRemoved, ep)
	w.WriteHeader(http.StatusNoContent)
}

// routeList serves one routing table category. The snapshot is copied out
// of the guard before encoding.
func (h *handler) routeList(snapshot func(*router.Guard) []router.RouteRecord) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		records := snapshot(h.state.Router)
		h.writeJSON(w, http.StatusOK, routeViews(records))
	}
}

func (h *handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if h.state.Store == nil {
		h.writeJSON(w, http.StatusOK, []model.AuditEntry{})
		return
	}
	entries, err := h.state.Store.ListAudit(limit)
	if err != nil {
		h.logger.Error("list audit failed", "error", err)
		http.Error(w, "failed to list audit", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// recordChange appends the audit entry and publishes the event for a
// successful peer change. Audit failures are only logged.
func (h *handler) recordChange(r *http.Request, action, event string, ep endpoint.Endpoint) {
	now := time.Now()
	who := actor(r)
	if h.state.Store != nil {
		err := h.state.Store.AppendAudit(model.AuditEntry{
			Actor:     who,
			Action:    action,
			Target:    ep.String(),
			Timestamp: now,
		})
		if err != nil {
			h.logger.Warn("append audit failed", "action", action, "endpoint", ep.String(), "error", err)
		}
	}
	h.events.Publish(Event{Type: event, Endpoint: ep.String(), Actor: who, Time: now})
}
