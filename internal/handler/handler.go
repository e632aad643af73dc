// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/credential"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/database"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/service"
)

// Credential headers.
const (
	HeaderUserID = "X-USER-ID"
	HeaderRoomID = "X-ROOM-ID"
)

// TxRunner opens the transaction a request runs in. *database.TxRunner
// satisfies it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx database.Tx) error) error
}

// LectureHandler holds all HTTP handlers for the lecture API.
type LectureHandler struct {
	svc *service.LectureService
	tx  TxRunner
	log *slog.Logger
}

// NewLectureHandler constructs a LectureHandler.
func NewLectureHandler(svc *service.LectureService, tx TxRunner, log *slog.Logger) *LectureHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LectureHandler{svc: svc, tx: tx, log: log}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.Response{Message: msg, Data: data, StatusCode: status})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msg, nil)
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors to status codes. Anything unknown is
// logged and reported as a bare 500.
func (h *LectureHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrCompensationFailed):
		// Checked first: the joined cause may itself be a client error.
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, credential.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, service.ErrNotFound.Error())
		return
	case errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrAlreadyAttended):
		writeError(w, http.StatusConflict, rootMessage(err))
		return
	case errors.Is(err, service.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, service.ErrUnavailable.Error())
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func rootMessage(err error) string {
	for _, sentinel := range []error{service.ErrConflict, service.ErrCapacityExceeded, service.ErrAlreadyAttended} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// ─── Authentication ───────────────────────────────────────────────────────────

type identityKey struct{}

// Authenticate verifies the X-USER-ID credential and stores the identity in
// the request context.
func (h *LectureHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.svc.Authenticate(r.Header.Get(HeaderUserID))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(ctx context.Context) (credential.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(credential.Identity)
	return id, ok
}

// SubjectKey keys per-caller middleware by the authenticated subject.
func SubjectKey(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.SubjectID
	}
	return r.RemoteAddr
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// IssuePassport handles POST /auth/passport
// Signs an identity credential for the given user and role.
func (h *LectureHandler) IssuePassport(w http.ResponseWriter, r *http.Request) {
	var req model.IssuePassportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	token, err := h.svc.IssuePassport(req.UserID, req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, "passport issued", model.IssuePassportResponse{Passport: token})
}

// OpenLecture handles POST /lecture/open
// Opens a lecture owned by the caller and returns its secret code and room
// credential.
func (h *LectureHandler) OpenLecture(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req model.OpenLectureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var res *service.CreateLectureResult
	err := h.tx.InTx(r.Context(), func(tx database.Tx) error {
		var err error
		res, err = h.svc.CreateLecture(r.Context(), tx, id.SubjectID, id.Role, req.Capacity)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, "lecture opened", model.OpenLectureResponse{
		SecretCode: res.SecretCode,
		RoomID:     res.RoomID,
	})
}

// CloseLecture handles POST /lecture/close
// Closes the lecture named by the X-ROOM-ID credential.
func (h *LectureHandler) CloseLecture(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	room, err := h.svc.OpenRoom(r.Header.Get(HeaderRoomID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	err = h.tx.InTx(r.Context(), func(tx database.Tx) error {
		return h.svc.DeleteLecture(r.Context(), tx, id.SubjectID, id.Role, room.LectureID)
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, "lecture closed", nil)
}

// AttendLecture handles POST /lecture/attend
// Admits the caller to the lecture with the given secret code.
func (h *LectureHandler) AttendLecture(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var req model.AttendLectureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	code := strings.TrimSpace(req.SecretCode)
	if code == "" {
		writeError(w, http.StatusBadRequest, "secretCode is required")
		return
	}

	var res *service.AttendResult
	err := h.tx.InTx(r.Context(), func(tx database.Tx) error {
		var err error
		res, err = h.svc.AttendLecture(r.Context(), tx, id.SubjectID, code)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	body := model.AttendLectureResponse{AttendanceID: res.AttendanceID}
	if res.Status == service.AttendAlreadyAttended {
		writeJSON(w, http.StatusOK, "already attending", body)
		return
	}
	writeJSON(w, http.StatusCreated, "attendance created", body)
}

// LectureInfo handles GET /lecture/informations
// Returns capacity, remaining seats and attendee count of the room.
func (h *LectureHandler) LectureInfo(w http.ResponseWriter, r *http.Request) {
	room, err := h.svc.OpenRoom(r.Header.Get(HeaderRoomID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var info *model.LectureInfo
	err = h.tx.InTx(r.Context(), func(tx database.Tx) error {
		var err error
		info, err = h.svc.LectureInfo(r.Context(), tx, room.LectureID)
		return err
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, "ok", info)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// HealthCheck handles GET /health
// Responds 503 naming the failed dependencies when any check fails.
func HealthCheck(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, "unhealthy", status)
			return
		}
		writeJSON(w, http.StatusOK, "ok", status)
	}
}
