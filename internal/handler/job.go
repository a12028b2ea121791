package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mailpilot/mailpilot/internal/composer"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/recipients"
	"github.com/mailpilot/mailpilot/internal/service"
)

type sendRequest struct {
	Sender     string            `json:"sender,omitempty"`
	Source     string            `json:"source,omitempty"`
	Recipients []model.Recipient `json:"recipients,omitempty"`
}

// SendResponse is returned when a send is requested
type SendResponse struct {
	Started bool   `json:"started"`
	Total   int    `json:"total"`
	Pending int    `json:"pending"`
	Message string `json:"message"`
}

// Send starts a job over the request recipients or the selected source
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	list := req.Recipients
	if len(list) == 0 {
		resolved, err := h.recipients.Resolve(r.Context(), req.Source)
		if err != nil {
			h.serviceError(w, err, "failed to load recipients")
			return
		}
		list = resolved
	}

	pending, err := h.jobs.Start(r.Context(), list, req.Sender)
	if err != nil {
		h.serviceError(w, err, "failed to start send job")
		return
	}

	resp := SendResponse{Started: pending > 0, Total: len(list), Pending: pending}
	if pending == 0 {
		resp.Message = "All recipients have already been sent"
	} else {
		resp.Message = fmt.Sprintf("Started sending to %d recipients", pending)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stop asks the running job to stop
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	stopped := h.jobs.RequestStop()
	msg := "No job is running"
	if stopped {
		msg = "Stop requested"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped": stopped,
		"message": msg,
	})
}

// Reset forces the job state back to idle
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.jobs.ForceReset()
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

// Status returns the current job state
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

// Log returns every delivery record
func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	entries, err := h.jobs.Log(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read delivery log")
		writeError(w, http.StatusInternalServerError, "log_unreadable", "The delivery log could not be read")
		return
	}
	if entries == nil {
		entries = []model.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ClearLog erases the delivery log
func (h *Handler) ClearLog(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.ClearLog(r.Context()); err != nil {
		h.serviceError(w, err, "failed to clear delivery log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Delivery log cleared"})
}

// Senders lists the selectable sender accounts
func (h *Handler) Senders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"senders": h.jobs.Senders(),
	})
}

type previewRequest struct {
	Sender    string          `json:"sender,omitempty"`
	Recipient model.Recipient `json:"recipient,omitempty"`
}

// Preview composes the message for one recipient. Without a recipient in the
// body the first loaded recipient is used.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	rcpt := req.Recipient
	if len(rcpt) == 0 {
		current := h.recipients.Current()
		if len(current) == 0 {
			writeError(w, http.StatusBadRequest, "no_recipients", service.ErrNoRecipients.Error())
			return
		}
		rcpt = current[0]
	}

	msg, err := h.jobs.Preview(r.Context(), rcpt, req.Sender)
	if err != nil {
		h.serviceError(w, err, "preview failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recipient": rcpt,
		"subject":   msg.Subject,
		"body":      msg.Body,
	})
}

// serviceError maps service errors onto the error envelope
func (h *Handler) serviceError(w http.ResponseWriter, err error, logMsg string) {
	var compErr *composer.CompositionError
	switch {
	case errors.Is(err, service.ErrJobRunning):
		writeError(w, http.StatusConflict, "job_running", "A send job is already running")
	case errors.Is(err, service.ErrNoRecipients),
		errors.Is(err, recipients.ErrNoValidRecipients):
		writeError(w, http.StatusBadRequest, "no_recipients", err.Error())
	case errors.Is(err, service.ErrUnknownSender):
		writeError(w, http.StatusBadRequest, "unknown_sender", err.Error())
	case errors.Is(err, service.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, "invalid_source", "Source must be auto, uploaded or sheets")
	case errors.Is(err, service.ErrSheetsNotConfigured):
		writeError(w, http.StatusBadRequest, "sheets_not_configured", err.Error())
	case errors.Is(err, model.ErrMissingEmail), errors.Is(err, model.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_recipient", err.Error())
	case errors.As(err, &compErr):
		h.log.Warn().Err(err).Msg(logMsg)
		writeError(w, http.StatusBadGateway, "generation_failed", err.Error())
	default:
		h.log.Error().Err(err).Msg(logMsg)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
