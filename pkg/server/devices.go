package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/provision"
	"github.com/raterudder/sgetiers/pkg/storage"
	"github.com/raterudder/sgetiers/pkg/types"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}
	writeJSON(w, devices)
}

func (s *Server) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var device types.Device
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode device", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	device.ID = id

	if err := device.Credentials.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// the enabled fields are only changed through the fields endpoint
	existing, err := s.storage.GetDevice(ctx, id)
	switch {
	case err == nil:
		device.AutoCreateFields = existing.AutoCreateFields
	case errors.Is(err, storage.ErrDeviceNotFound):
		device.AutoCreateFields = nil
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}

	device.PrepareSave()
	if err := s.storage.PutDevice(ctx, device); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to put device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to save device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device saved", slog.String("deviceID", id))
	writeJSON(w, device)
}

type enableFieldsRequest struct {
	FieldIDs []string `json:"fieldIDs"`
}

type enableFieldsResponse struct {
	Provisioned int    `json:"provisioned"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleEnableFields(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req enableFieldsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode fields request", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.FieldIDs) == 0 {
		writeJSONError(w, "fieldIDs required", http.StatusBadRequest)
		return
	}

	device, err := s.storage.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}

	n, provisionErr := provision.EnableFields(ctx, s.storage, device, req.FieldIDs)

	enabled := make(map[string]bool, len(device.AutoCreateFields))
	for _, f := range device.AutoCreateFields {
		enabled[f] = true
	}
	var changed bool
	for _, f := range req.FieldIDs {
		if !enabled[f] {
			enabled[f] = true
			device.AutoCreateFields = append(device.AutoCreateFields, f)
			changed = true
		}
	}
	if changed {
		if err := s.storage.PutDevice(ctx, device); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to put device", slog.String("deviceID", id), slog.Any("error", err))
			writeJSONError(w, "failed to save device", http.StatusInternalServerError)
			return
		}
	}

	resp := enableFieldsResponse{Provisioned: n}
	if provisionErr != nil {
		resp.Error = provisionErr.Error()
	}
	writeJSON(w, resp)
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	vars, err := s.storage.ListVariables(ctx, id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list variables", slog.String("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to list variables", http.StatusInternalServerError)
		return
	}
	if vars == nil {
		vars = []types.BoundVariable{}
	}
	writeJSON(w, vars)
}
