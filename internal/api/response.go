package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/dagflow/internal/engine"
	"github.com/shaiso/dagflow/internal/orchestrator"
	"github.com/shaiso/dagflow/internal/registry"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/xjson"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeInvalidDefinition ErrorCode = "INVALID_DEFINITION"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"
	ErrCodeUnavailable       ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError     ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	xjson.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping связывает ошибку пакета с HTTP статусом и кодом.
type errorMapping struct {
	target error
	status int
	code   ErrorCode
}

// errorMappings проверяются по порядку, первая совпавшая побеждает.
var errorMappings = []errorMapping{
	{orchestrator.ErrRunNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrDefinitionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{registry.ErrExecutorNotFound, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{orchestrator.ErrInvalidTransition, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{repo.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict},
	{orchestrator.ErrTenantRequired, http.StatusBadRequest, ErrCodeBadRequest},
	{registry.ErrInvalidExecutor, http.StatusBadRequest, ErrCodeBadRequest},
	{registry.ErrNoExecutorAvailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// StatusFor возвращает HTTP статус и код для ошибки.
// Неизвестные ошибки — 500.
func StatusFor(err error) (int, ErrorCode) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, ErrCodeInvalidDefinition
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// HandleError пишет ответ с ошибкой оркестратора, хранилища или реестра.
// Возвращает false, если ошибки нет.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalError(w, logger, err)
		return true
	}
	Error(w, status, code, err.Error())
	return true
}
