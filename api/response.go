package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/core"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码映射 HTTP 状态；INFERENCE 等内部错误不暴露细节。
func writeError(w http.ResponseWriter, err error) {
	status, code := mapDomainError(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Code: code, Detail: detail})
}

func mapDomainError(err error) (int, string) {
	de := core.GetDomainError(err)
	if de == nil {
		return http.StatusInternalServerError, "INTERNAL"
	}
	switch de.Code {
	case core.ErrorCodeInvalidInput, core.ErrorCodeInvalidImage:
		return http.StatusBadRequest, de.Code
	case core.ErrorCodeNotFound:
		return http.StatusNotFound, de.Code
	case core.ErrorCodeModelUnavailable, core.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable, de.Code
	default:
		return http.StatusInternalServerError, de.Code
	}
}
