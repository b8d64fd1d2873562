package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/storage"
	"github.com/raterudder/sgetiers/pkg/types"
)

type readRequest struct {
	// DeviceID limits the cycle to one device, all devices are read when empty
	DeviceID string `json:"deviceID"`
}

type readResponse struct {
	Updated map[string][]string `json:"updated"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req readRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode read request", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}

	if s.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

	resp := readResponse{Updated: map[string][]string{}}
	if req.DeviceID != "" {
		updated, err := s.reader.ReadDevice(ctx, req.DeviceID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to read device", slog.String("deviceID", req.DeviceID), slog.Any("error", err))
			switch {
			case errors.Is(err, storage.ErrDeviceNotFound):
				writeJSONError(w, "device not found", http.StatusNotFound)
			case errors.Is(err, types.ErrInvalidCredentials):
				writeJSONError(w, err.Error(), http.StatusBadRequest)
			default:
				writeJSONError(w, "failed to read device", http.StatusInternalServerError)
			}
			return
		}
		resp.Updated[req.DeviceID] = updated
	} else {
		updated, err := s.reader.ReadAll(ctx)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "read cycle failed", slog.Any("error", err))
			if updated == nil {
				writeJSONError(w, "failed to read devices", http.StatusInternalServerError)
				return
			}
		}
		resp.Updated = updated
	}

	log.Ctx(ctx).InfoContext(ctx, "read request finished", slog.Int("devices", len(resp.Updated)))
	writeJSON(w, resp)
}
