package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"erp-pricing-api/internal/importer"
	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/middleware"
	"erp-pricing-api/internal/service"
	"erp-pricing-api/pkg/apierror"
)

const maxJSONBody = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads and validates a request body. An empty body decodes to
// the zero value, which is then validated.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apierror.BadRequest("invalid JSON: " + err.Error())
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apierror.BadRequest(err.Error())
	}
	details := make([]apierror.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, apierror.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return apierror.ValidationError("request validation failed", details...)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func actor(r *http.Request) string {
	if a := middleware.ActorFromContext(r.Context()); a != "" {
		return a
	}
	return middleware.AnonymousActor
}

// apiError maps domain errors onto HTTP errors. Unknown errors are logged and
// returned as a generic 500.
func apiError(r *http.Request, err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var missing *importer.MissingColumnError
	switch {
	case errors.As(err, &missing):
		return apierror.BadRequest(err.Error()).WithDetails(apierror.FieldError{
			Field:   string(missing.Field),
			Message: "no column matches this field",
		})
	case errors.Is(err, importer.ErrInvalidExtension),
		errors.Is(err, importer.ErrMissingHeader):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, importer.ErrFileTooLarge):
		return apierror.PayloadTooLarge(err.Error())
	case errors.Is(err, importer.ErrNoRecords):
		return apierror.Unprocessable(err.Error())

	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrRecordNotFound),
		errors.Is(err, service.ErrOperationNotFound),
		errors.Is(err, service.ErrItemNotFound):
		return apierror.NotFound(err.Error())

	case errors.Is(err, service.ErrNotesRequired):
		return apierror.ValidationError(err.Error(), apierror.FieldError{Field: "notes", Message: "is required"})
	case errors.Is(err, service.ErrNotApprovable),
		errors.Is(err, service.ErrNothingToCommit):
		return apierror.Unprocessable(err.Error())

	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrOperationActive),
		errors.Is(err, service.ErrNotCancellable),
		errors.Is(err, service.ErrNotRetryable):
		return apierror.Conflict(err.Error())

	case errors.Is(err, service.ErrWorkerPoolClosed):
		return apierror.ServiceUnavailable(err.Error())
	}

	logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.Error(err),
	)
	return apierror.InternalError("")
}
