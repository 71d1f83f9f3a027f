package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bulksend/internal/auth"
	"bulksend/internal/jobs"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type JobHandler struct {
	Ctl *jobs.Controller
	Log zerolog.Logger
}

type createJobReq struct {
	DeviceID   string          `json:"deviceId"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Recipients []string        `json:"recipients"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	var idem *string
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		idem = &k
	}

	j, created, err := h.Ctl.Create(r.Context(), jobs.CreateJobInput{
		UserID:         uid,
		DeviceID:       req.DeviceID,
		Type:           jobs.Type(strings.TrimSpace(req.Type)),
		Data:           req.Data,
		Recipients:     req.Recipients,
		IdempotencyKey: idem,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, j)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()

	list, err := h.Ctl.List(r.Context(), uid, jobs.Status(strings.TrimSpace(q.Get("status"))), queryInt(q.Get("limit")))
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	j, err := h.Ctl.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *JobHandler) Items(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()

	var after uint64
	if v := strings.TrimSpace(q.Get("after")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}

	items, err := h.Ctl.Items(r.Context(), uid, chi.URLParam(r, "id"),
		jobs.ItemStatus(strings.TrimSpace(q.Get("status"))), after, queryInt(q.Get("limit")))
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []jobs.JobItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type jobAction func(*jobs.Controller, *http.Request, uint64, string) (*jobs.Job, error)

func (h *JobHandler) action(fn jobAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := auth.UserIDFromContext(r.Context())
		j, err := fn(h.Ctl, r, uid, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func (h *JobHandler) Pause() http.HandlerFunc {
	return h.action(func(c *jobs.Controller, r *http.Request, uid uint64, id string) (*jobs.Job, error) {
		return c.Pause(r.Context(), uid, id)
	})
}

func (h *JobHandler) Resume() http.HandlerFunc {
	return h.action(func(c *jobs.Controller, r *http.Request, uid uint64, id string) (*jobs.Job, error) {
		return c.Resume(r.Context(), uid, id)
	})
}

func (h *JobHandler) Cancel() http.HandlerFunc {
	return h.action(func(c *jobs.Controller, r *http.Request, uid uint64, id string) (*jobs.Job, error) {
		return c.Cancel(r.Context(), uid, id)
	})
}

// Retry answers 201 because it always creates a new job.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	j, err := h.Ctl.Retry(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *JobHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		h.Log.Error().Err(err).Msg("job request failed")
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func queryInt(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
