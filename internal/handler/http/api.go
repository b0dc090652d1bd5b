package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"techpulse/internal/domain/entity"
	"techpulse/internal/handler/http/respond"
	"techpulse/internal/usecase/refresh"
)

// ResourceResponse is the body of GET /api/{resource}.
type ResourceResponse struct {
	Resource        entity.ResourceType       `json:"resource"`
	Count           int                       `json:"count"`
	LastRefreshedAt *time.Time                `json:"lastRefreshedAt,omitempty"`
	Fallback        bool                      `json:"fallback"`
	Records         []entity.NormalizedRecord `json:"records"`
}

func newResourceResponse(set entity.CachedResourceSet) ResourceResponse {
	resp := ResourceResponse{
		Resource: set.Resource,
		Count:    len(set.Records),
		Fallback: set.Fallback,
		Records:  set.Records,
	}
	if resp.Records == nil {
		resp.Records = []entity.NormalizedRecord{}
	}
	if !set.LastRefreshedAt.IsZero() {
		ts := set.LastRefreshedAt.UTC()
		resp.LastRefreshedAt = &ts
	}
	return resp
}

// RefreshResponse is the body of POST /api/refresh/{resource}.
type RefreshResponse struct {
	Resource  entity.ResourceType `json:"resource"`
	Refreshed bool                `json:"refreshed"`
	Reason    string              `json:"reason,omitempty"`
	Count     int                 `json:"count"`
	Fallback  bool                `json:"fallback"`
	Error     string              `json:"error,omitempty"`
}

func (h *handlers) resource(w http.ResponseWriter, r *http.Request) (entity.ResourceType, bool) {
	res, err := entity.ParseResourceType(chi.URLParam(r, "resource"))
	if err != nil {
		respond.Error(w, http.StatusNotFound, err)
		return "", false
	}
	return res, true
}

// GetResource serves the cached set. ?refresh=true refreshes first and is
// charged to the same per-client budget as POST /api/refresh.
func (h *handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}

	force := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, errors.New("refresh must be a boolean"))
			return
		}
		force = v
	}
	if force && !h.limiter.Admit(w, r) {
		return
	}

	set, err := h.core.GetCachedResource(r.Context(), res, force)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, newResourceResponse(set))
}

// Refresh runs a manual refresh. A refresh already in flight answers 409.
func (h *handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}

	out, err := h.core.ForceRefresh(r.Context(), res)
	if err != nil {
		h.fail(w, err)
		return
	}

	body := RefreshResponse{
		Resource:  res,
		Refreshed: out.Refreshed,
		Reason:    out.Reason,
		Count:     len(out.Set.Records),
		Fallback:  out.Set.Fallback,
	}
	code := http.StatusOK
	if out.Err != nil {
		body.Error = out.Err.Error()
		if errors.Is(out.Err, refresh.ErrRefreshInProgress) {
			code = http.StatusConflict
		}
	}
	respond.JSON(w, code, body)
}

// RefreshStatus reports the refresh state of one resource, or all of them
// when ?resource is absent.
func (h *handlers) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("resource")
	if raw == "" {
		respond.NoStore(w, http.StatusOK, h.core.RefreshStatuses())
		return
	}

	res, err := entity.ParseResourceType(raw)
	if err != nil {
		respond.Error(w, http.StatusNotFound, err)
		return
	}
	st, err := h.core.GetRefreshStatus(res)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.NoStore(w, http.StatusOK, st)
}

// ErrorStats serves the error monitor summary.
func (h *handlers) ErrorStats(w http.ResponseWriter, _ *http.Request) {
	respond.NoStore(w, http.StatusOK, h.core.GetErrorStats())
}

// ClearErrors resets the error monitor.
func (h *handlers) ClearErrors(w http.ResponseWriter, r *http.Request) {
	h.core.ClearErrorStats(r.Context())
	respond.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Dashboard serves the combined monitoring view.
func (h *handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	respond.NoStore(w, http.StatusOK, h.core.Dashboard(r.Context()))
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, entity.ErrUnknownResource) {
		respond.Error(w, http.StatusNotFound, err)
		return
	}
	respond.SafeError(w, http.StatusInternalServerError, err)
}
