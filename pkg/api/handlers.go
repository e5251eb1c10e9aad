package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/reconcile"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func requestTenant(r *http.Request) tenant.ID {
	id, _ := tenant.FromContext(r.Context())
	return id
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// rightInfo is the catalog view of one registered right.
type rightInfo struct {
	ID        rights.ID       `json:"id"`
	Category  rights.Category `json:"category"`
	Values    []string        `json:"values"`
	DependsOn rights.ID       `json:"depends_on,omitempty"`
}

func (s *Server) handleListRights(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.Ordered()
	out := make([]rightInfo, 0, len(defs))
	for _, def := range defs {
		info := rightInfo{ID: def.ID(), Category: def.Category()}
		for _, v := range def.AllowedValues() {
			info.Values = append(info.Values, v.String())
		}
		if dep := def.DependsOn(); dep != nil {
			info.DependsOn = dep.ID()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ids := s.caches.Get(requestTenant(r)).GroupIDs(r.Context(), userID)
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "group_ids": ids})
}

func (s *Server) handleGroupMembership(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	groupID, err := pathInt64(r, "groupID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return
	}
	member := s.caches.Get(requestTenant(r)).IsMemberOfGroup(r.Context(), userID, groupID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID, "group_id": groupID, "member": member,
	})
}

func (s *Server) handleSpecialMembership(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	kind := membership.SpecialGroup(mux.Vars(r)["kind"])
	known := false
	for _, candidate := range membership.SpecialGroups() {
		if candidate == kind {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "unknown special group "+string(kind))
		return
	}
	member := s.caches.Get(requestTenant(r)).IsMemberOfSpecialGroup(r.Context(), userID, kind)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID, "kind": kind, "member": member,
	})
}

func (s *Server) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	resolutions, err := s.resolver.ResolveAll(r.Context(), requestTenant(r), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolutions)
}

func (s *Server) handleResolveOne(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	rightID := rights.ID(mux.Vars(r)["rightID"])
	res, err := s.resolver.Resolve(r.Context(), requestTenant(r), userID, rightID)
	if err != nil {
		if errors.Is(err, rights.ErrUnknownRight) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reconcileRequest is the wire form of a desired assignment batch. Values
// travel as their string names.
type reconcileRequest struct {
	Assignments []struct {
		RightID string `json:"right_id"`
		Value   string `json:"value"`
	} `json:"assignments"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	desired := make([]reconcile.DesiredAssignment, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		v, err := rights.ParseValue(a.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		desired = append(desired, reconcile.DesiredAssignment{RightID: rights.ID(a.RightID), Value: v})
	}

	res, err := s.reconciler.ReconcileUser(r.Context(), requestTenant(r), userID, desired)
	if err != nil {
		if errors.Is(err, rights.ErrUnknownRight) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("reconciliation failed")
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	t := requestTenant(r)
	s.caches.Invalidate(t, "api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	t := requestTenant(r)
	if err := s.caches.Get(t).Refresh(r.Context(), "api"); err != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh failed: "+err.Error())
		return
	}
	snap := s.caches.Get(t).Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "refreshed",
		"generation": snap.Generation(),
		"users":      snap.UserCount(),
		"groups":     snap.GroupCount(),
	})
}
