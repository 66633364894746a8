package rpcserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver/handler"
)

// Response is the body of every listener response.
type Response struct {
	Status    int    `json:"status"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Info      string `json:"info,omitempty"`
	Traceback string `json:"traceback,omitempty"`
}

// OK reports a zero status.
func (r Response) OK() bool {
	return r.Status == 0
}

// Err rebuilds the error of a failed response.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	if r.Code != "" {
		return domain.NewDomainError(r.Code, r.Error)
	}
	return errors.New(r.Error)
}

// resultResponse builds the response of a successful action.
func resultResponse(v any) Response {
	if info, ok := v.(handler.Info); ok {
		return Response{Info: info.Message, Data: info.Data}
	}
	return Response{Data: v}
}

// errorResponse maps err to a response and an HTTP status. Errors that
// are not domain errors are reported as internal errors.
func errorResponse(err error) (Response, int) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrInternalServer.WithCause(err)
	}
	msg := de.Message
	if de.Details != "" {
		msg += ": " + de.Details
	}
	return Response{Status: 1, Error: msg, Code: de.Code}, de.HTTPStatus()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) int {
	resp, status := errorResponse(err)
	w.Header().Set("X-Error-Code", resp.Code)
	writeJSON(w, status, resp)
	return status
}
