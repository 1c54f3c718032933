package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/platform/requestctx"
	"github.com/stagegate/stagegate/internal/platform/timeouts"
	"github.com/stagegate/stagegate/internal/router"
)

// parseOpRef resolves an operation reference: either the canonical hex form
// or an operation name, which hashes to its id.
func parseOpRef(ref string) (router.OpID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return router.OpID{}, apperrors.New(apperrors.CodeArgumentInvalid, "operation reference is required")
	}
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		return router.ParseOp(ref)
	}
	return router.OpNamed(ref), nil
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type dispatchRequest struct {
	Op   string `json:"op"`
	Args any    `json:"args"`
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	op, err := parseOpRef(req.Op)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	args, err := encodeArgs(req.Args)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Request)
	defer cancel()
	caller := requestctx.CallerFromContext(ctx)
	payload, err := h.dispatcher.Dispatch(ctx, caller, op, args)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	result, err := decodeResult(payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"op":     op.String(),
		"result": result,
	})
}

type routeChangeRequest struct {
	Action  string   `json:"action"`
	Address string   `json:"address"`
	Ops     []string `json:"ops"`
}

type initCallRequest struct {
	Address string `json:"address"`
	Op      string `json:"op"`
	Args    any    `json:"args"`
}

type routeChangesRequest struct {
	Changes []routeChangeRequest `json:"changes"`
	Init    *initCallRequest     `json:"init,omitempty"`
}

func (h *Handler) submitRouteChanges(w http.ResponseWriter, r *http.Request) {
	var req routeChangesRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	changes := make([]router.Change, 0, len(req.Changes))
	for _, change := range req.Changes {
		action, err := router.ParseAction(change.Action)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		ops := make([]router.OpID, 0, len(change.Ops))
		for _, ref := range change.Ops {
			op, err := parseOpRef(ref)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			ops = append(ops, op)
		}
		changes = append(changes, router.Change{
			Action:  action,
			Address: change.Address,
			Ops:     ops,
		})
	}

	var init *router.InitCall
	if req.Init != nil {
		op, err := parseOpRef(req.Init.Op)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		args, err := encodeArgs(req.Init.Args)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		init = &router.InitCall{
			Address: req.Init.Address,
			Op:      op,
			Args:    args,
		}
	}

	caller := requestctx.CallerFromContext(r.Context())
	if err := h.dispatcher.SubmitRouteChanges(r.Context(), caller, changes, init); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"applied": len(changes),
	})
}

type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferOwnershipRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	caller := requestctx.CallerFromContext(r.Context())
	if err := h.dispatcher.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"owner": req.NewOwner,
	})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) {
	owner, err := h.dispatcher.Owner(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"owner": owner})
}

type moduleView struct {
	Address    string   `json:"address"`
	Operations []string `json:"operations"`
}

func (h *Handler) modules(w http.ResponseWriter, r *http.Request) {
	addresses, err := h.dispatcher.Modules(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	views := make([]moduleView, 0, len(addresses))
	for _, address := range addresses {
		ops, err := h.dispatcher.OperationsOf(r.Context(), address)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		views = append(views, moduleView{
			Address:    address,
			Operations: opStrings(ops),
		})
	}
	writeSuccess(w, http.StatusOK, map[string]any{"modules": views})
}

func (h *Handler) moduleOperations(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	ops, err := h.dispatcher.OperationsOf(r.Context(), address)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, moduleView{
		Address:    address,
		Operations: opStrings(ops),
	})
}

func (h *Handler) resolveOperation(w http.ResponseWriter, r *http.Request) {
	op, err := parseOpRef(chi.URLParam(r, "op"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	address, err := h.dispatcher.ModuleFor(r.Context(), op)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"op":     op.String(),
		"module": address,
	})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	afterSeq := uint64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeAppError(w, r, apperrors.Wrap(apperrors.CodeArgumentInvalid, "parse after", err))
			return
		}
		afterSeq = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeAppError(w, r, apperrors.New(apperrors.CodeArgumentInvalid, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	events, err := h.store.Notifications(r.Context(), afterSeq, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"notifications": events})
}

func opStrings(ops []router.OpID) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}
