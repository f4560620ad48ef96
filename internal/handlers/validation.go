package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// ValidationError is a rejected request field. It matches models.ErrValidation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return models.ErrValidation
}

// Global validator instance (reused across all handlers)
var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidateRequest validates a request struct using go-playground/validator.
// The first failing field is reported.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &ValidationError{Field: ve[0].Field(), Message: formatValidationError(ve[0])}
	}
	return &ValidationError{Message: "invalid request"}
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// formBinder is implemented by request DTOs that can also arrive as an HTML form post
type formBinder interface {
	bindForm(values url.Values)
}

// decodeRequest reads a JSON or form-encoded body into dst and validates it
func decodeRequest(w http.ResponseWriter, r *http.Request, dst formBinder) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch formType(r) {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return &ValidationError{Message: "invalid form body"}
		}
		dst.bindForm(r.PostForm)
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return &ValidationError{Message: "invalid form body"}
		}
		dst.bindForm(r.PostForm)
	default:
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return &ValidationError{Message: "invalid request body"}
		}
	}

	return ValidateRequest(dst)
}

// formType returns the form media type of the body, or "" for anything else
func formType(r *http.Request) string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return mediaType
	}
	return ""
}
