package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/copyleftdev/hypertune/internal/errors"
	"github.com/copyleftdev/hypertune/internal/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// requestLogger returns the logger the logging middleware stored in the
// request context.
func (s *Server) requestLogger(r *http.Request) *logging.Logger {
	return logging.FromContext(r.Context()).Logger
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequestf("invalid request body: %v", err)
	}
	return nil
}

// handleCreateStudy handles POST /api/v1/studies.
func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req StudyRequest
	if err := decodeBody(w, r, &req); err != nil {
		apperrors.WriteError(w, s.requestLogger(r), err)
		return
	}

	status, err := s.startStudy(&req)
	if err != nil {
		apperrors.WriteError(w, s.requestLogger(r), err)
		return
	}
	apperrors.WriteJSON(w, http.StatusAccepted, status)
}

// handleListStudies handles GET /api/v1/studies.
func (s *Server) handleListStudies(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"studies": s.listStudies(),
	})
}

// handleGetStudy handles GET /api/v1/studies/{id}. ?history=true includes
// every trial.
func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))

	status, err := s.studyStatus(chi.URLParam(r, "id"), history)
	if err != nil {
		apperrors.WriteError(w, s.requestLogger(r), err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, status)
}

// handleCancelStudy handles DELETE /api/v1/studies/{id}.
func (s *Server) handleCancelStudy(w http.ResponseWriter, r *http.Request) {
	status, err := s.cancelStudy(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteError(w, s.requestLogger(r), err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, status)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type studyRef struct {
	StudyID string `json:"study_id" validate:"required"`
	History bool   `json:"history"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, apperrors.CodeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, apperrors.CodeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "study.start":
		var req StudyRequest
		if err = s.decodeParams(request.Params, &req); err == nil {
			result, err = s.startStudy(&req)
		}
	case "study.status":
		var ref studyRef
		if err = s.decodeParams(request.Params, &ref); err == nil {
			result, err = s.studyStatus(ref.StudyID, ref.History)
		}
	case "study.cancel":
		var ref studyRef
		if err = s.decodeParams(request.Params, &ref); err == nil {
			result, err = s.cancelStudy(ref.StudyID)
		}
	case "study.list":
		result = s.listStudies()
	default:
		s.respondWithError(w, apperrors.CodeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		e := apperrors.Wrap(err, "")
		if e.Internal() {
			s.requestLogger(r).WithError(err).Error("RPC failed", map[string]interface{}{
				"method": request.Method,
			})
		}
		s.respondWithError(w, e.Code, e.Error(), request.ID)
		return
	}

	// Send successful response
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

// decodeParams accepts params as an object or as a one-element array
// holding the object.
func (s *Server) decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return apperrors.BadRequestf("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) != 1 {
			return apperrors.BadRequestf("params must be an object or a one-element array")
		}
		raw = list[0]
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequestf("invalid params: %v", err)
	}
	if ref, ok := v.(*studyRef); ok {
		if err := s.validate.Struct(ref); err != nil {
			return apperrors.BadRequestf("%v", err)
		}
	}
	return nil
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Debug("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}
