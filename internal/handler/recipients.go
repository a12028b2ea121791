package handler

import (
	"errors"
	"net/http"

	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/recipients"
)

const maxUploadSize = 10 << 20

// RecipientsResponse describes a loaded recipient list
type RecipientsResponse struct {
	Recipients []model.Recipient `json:"recipients"`
	Count      int               `json:"count"`
	Skipped    int               `json:"skipped"`
	Total      int               `json:"total"`
}

func listResponse(res recipients.Result, total int) RecipientsResponse {
	list := res.Recipients
	if list == nil {
		list = []model.Recipient{}
	}
	return RecipientsResponse{Recipients: list, Count: len(list), Skipped: res.Skipped, Total: total}
}

// SheetsRecipients reads the configured spreadsheet
func (h *Handler) SheetsRecipients(w http.ResponseWriter, r *http.Request) {
	res, err := h.recipients.Sheets(r.Context())
	if err != nil {
		h.serviceError(w, err, "failed to read spreadsheet")
		return
	}
	writeJSON(w, http.StatusOK, listResponse(res, res.Count()))
}

// UploadRecipients loads a CSV or Excel file sent as the "file" form field
func (h *Handler) UploadRecipients(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "A file field is required")
		return
	}
	defer file.Close()

	res, err := h.recipients.Upload(header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, recipients.ErrUnsupportedFormat):
			writeError(w, http.StatusBadRequest, "unsupported_format", err.Error())
		case errors.Is(err, recipients.ErrNoValidRecipients):
			writeError(w, http.StatusBadRequest, "no_recipients", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_file", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, listResponse(res, res.Count()))
}

type manualRequest struct {
	Entries []recipients.ManualEntry `json:"entries"`
	Mode    string                   `json:"mode,omitempty"`
}

// ManualRecipients loads recipients typed into the dashboard form
func (h *Handler) ManualRecipients(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	res, total, err := h.recipients.Manual(req.Entries, req.Mode)
	if err != nil {
		if errors.Is(err, recipients.ErrNoValidRecipients) {
			writeError(w, http.StatusBadRequest, "no_recipients", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse(res, total))
}

// CurrentRecipients returns the loaded list
func (h *Handler) CurrentRecipients(w http.ResponseWriter, r *http.Request) {
	list := h.recipients.Current()
	writeJSON(w, http.StatusOK, listResponse(recipients.Result{Recipients: list}, len(list)))
}

// ClearRecipients drops the loaded list
func (h *Handler) ClearRecipients(w http.ResponseWriter, r *http.Request) {
	h.recipients.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Recipients cleared"})
}
