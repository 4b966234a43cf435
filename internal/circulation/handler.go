// internal/circulation/handler.go
package circulation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"libracore/internal/catalog"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/resources", func(r chi.Router) {
		r.Get("/", h.HandleListResources)
		r.Post("/", h.HandleAddResource)
		r.Get("/{id}", h.HandleGetResource)
		r.Patch("/{id}", h.HandleEditResource)
		r.Delete("/{id}", h.HandleRemoveResource)
		r.Get("/{id}/events", h.HandleResourceHistory)
		r.Post("/{id}/copies", h.HandleAddCopy)
		r.Delete("/{id}/copies/{copyID}", h.HandleRemoveCopy)
	})
	r.Post("/loans", h.HandleLoan)
	r.Post("/returns", h.HandleReturn)
	r.Post("/requests", h.HandleRequest)
	r.Delete("/requests", h.HandleCancelRequest)
	r.Get("/overdue", h.HandleFindAllOverdue)
	r.Get("/members/{username}/overdue", h.HandleMemberOverdue)
	r.Post("/members/{username}/payments", h.HandlePayFine)
	r.Get("/snapshot", h.HandleSnapshot)
}

func (h *Handler) HandleAddResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string            `json:"id"`
		Kind       string            `json:"kind"`
		Title      string            `json:"title"`
		Year       string            `json:"year"`
		Thumbnail  string            `json:"thumbnail"`
		Attributes map[string]string `json:"attributes"`
		Copies     []int             `json:"copies"`
	}
	if !decode(w, r, &req) {
		return
	}

	view, err := h.service.AddResource(r.Context(), catalog.Entry{
		ID:         req.ID,
		Kind:       catalog.Kind(req.Kind),
		Title:      req.Title,
		Year:       req.Year,
		Thumbnail:  req.Thumbnail,
		Attributes: req.Attributes,
	}, req.Copies...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// HandleListResources lists every resource, or searches when q, kind or
// limit is given.
func (h *Handler) HandleListResources(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var (
		views []ResourceView
		err   error
	)
	if params.Has("q") || params.Has("kind") || params.Has("limit") {
		q := catalog.Query{Text: params.Get("q")}
		for _, raw := range params["kind"] {
			kind, kerr := catalog.ParseKind(raw)
			if kerr != nil {
				writeError(w, fmt.Errorf("%w: %w", ErrInvalidArgument, kerr))
				return
			}
			q.Kinds = append(q.Kinds, kind)
		}
		if raw := params.Get("limit"); raw != "" {
			if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 0 {
				writeError(w, fmt.Errorf("%w: limit %q", ErrInvalidArgument, raw))
				return
			}
		}
		views, err = h.service.SearchResources(r.Context(), q)
	} else {
		views, err = h.service.ListResources(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleGetResource(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleEditResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string            `json:"title"`
		Year       string            `json:"year"`
		Attributes map[string]string `json:"attributes"`
	}
	if !decode(w, r, &req) {
		return
	}
	view, err := h.service.EditResource(r.Context(), chi.URLParam(r, "id"), req.Title, req.Year, req.Attributes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleRemoveResource(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveResource(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleResourceHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ResourceHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleAddCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanDuration int `json:"loan_duration"`
	}
	if !decode(w, r, &req) {
		return
	}
	ref, err := h.service.AddCopy(r.Context(), chi.URLParam(r, "id"), req.LoanDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"copy": ref.String()})
}

func (h *Handler) HandleRemoveCopy(w http.ResponseWriter, r *http.Request) {
	ref := CopyRef{ResourceID: chi.URLParam(r, "id"), CopyID: chi.URLParam(r, "copyID")}
	if err := h.service.RemoveCopy(r.Context(), ref); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type copyRequest struct {
	Username string `json:"username"`
	Copy     string `json:"copy"`
}

func (h *Handler) HandleLoan(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if !decode(w, r, &req) {
		return
	}
	ref, err := ParseCopyRef(req.Copy)
	if err != nil {
		writeError(w, err)
		return
	}
	loan, err := h.service.LoanResource(r.Context(), req.Username, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if !decode(w, r, &req) {
		return
	}
	ref, err := ParseCopyRef(req.Copy)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := h.service.ReturnResource(r.Context(), req.Username, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type resourceRequest struct {
	Username   string `json:"username"`
	ResourceID string `json:"resource_id"`
}

func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := h.service.RequestResource(r.Context(), req.Username, req.ResourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.CancelRequest(r.Context(), req.Username, req.ResourceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleFindAllOverdue(w http.ResponseWriter, r *http.Request) {
	refs, err := h.service.FindAllOverdue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refStrings(refs))
}

func (h *Handler) HandleMemberOverdue(w http.ResponseWriter, r *http.Request) {
	refs, err := h.service.CheckForOverdue(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refStrings(refs))
}

func (h *Handler) HandlePayFine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	member, err := h.service.PayFine(r.Context(), chi.URLParam(r, "username"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	lib, err := h.service.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

func refStrings(refs []CopyRef) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.String()
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// StatusFor maps circulation errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrPolicyViolation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}
