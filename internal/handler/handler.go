package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/database"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/service"
)

// Handler holds all HTTP handlers
type Handler struct {
	db         *database.Postgres
	rdb        *database.Redis
	log        *logger.Logger
	cfg        *config.Config
	jobs       *service.JobService
	recipients *service.RecipientService
	authSvc    *service.AuthService
}

// New creates a new Handler instance. db and rdb may be nil when the
// deployment runs without them.
func New(db *database.Postgres, rdb *database.Redis, log *logger.Logger, cfg *config.Config, jobs *service.JobService, recipients *service.RecipientService, authSvc *service.AuthService) *Handler {
	return &Handler{
		db:         db,
		rdb:        rdb,
		log:        log,
		cfg:        cfg,
		jobs:       jobs,
		recipients: recipients,
		authSvc:    authSvc,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// readJSON decodes the body into v. An empty body leaves v untouched.
func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
