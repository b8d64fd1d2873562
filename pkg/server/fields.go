package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/sgetiers/pkg/catalog"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"
)

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fields, err := s.storage.ListFields(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list fields", slog.Any("error", err))
		writeJSONError(w, "failed to list fields", http.StatusInternalServerError)
		return
	}
	if fields == nil {
		fields = []types.FieldDefinition{}
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, fields)
}

type upsertFieldRequest struct {
	Label          string               `json:"label"`
	CommandService types.CommandService `json:"commandService"`
	PathExpression string               `json:"pathExpression"`
	Unit           types.Unit           `json:"unit"`
}

type upsertFieldResponse struct {
	Field   types.FieldDefinition `json:"field"`
	Created bool                  `json:"created"`
}

func (s *Server) handleUpsertField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req upsertFieldRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode field", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Label) == "" || strings.TrimSpace(req.PathExpression) == "" {
		writeJSONError(w, "label and pathExpression are required", http.StatusBadRequest)
		return
	}

	field, created, err := catalog.Upsert(ctx, s.storage, req.PathExpression, req.CommandService, req.Label, req.Unit)
	if err != nil {
		var unknown types.UnknownCommandServiceError
		if errors.As(err, &unknown) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to upsert field", slog.Any("error", err))
		writeJSONError(w, "failed to save field", http.StatusInternalServerError)
		return
	}
	writeJSON(w, upsertFieldResponse{Field: field, Created: created})
}
