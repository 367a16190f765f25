package types

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Validater interface {
	Validate() map[string]string
}

type ExtractParams struct {
	Bucket string `json:"bucket" validate:"required"`
	Key    string `json:"key" validate:"required"`
}

type AskParams struct {
	Question string `json:"question" validate:"required"`
}

type IngestParams struct {
	Key string `json:"key" validate:"required"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *ExtractParams) Validate() map[string]string {
	params.Bucket = strings.TrimSpace(params.Bucket)
	params.Key = strings.TrimSpace(params.Key)
	return validateStruct(params)
}

func (params *AskParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *IngestParams) Validate() map[string]string {
	params.Key = strings.TrimSpace(params.Key)
	return validateStruct(params)
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string, len(errs))
		for _, e := range errs {
			errors[jsonName(e.Field())] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

func jsonName(field string) string {
	return strings.ToLower(field)
}

type ValidationError struct {
	Status  int               `json:"-"`
	Message string            `json:"error"`
	Errors  map[string]string `json:"fields"`
}

func (e ValidationError) Error() string {
	return e.Message
}

func NewValidationError(errors map[string]string) ValidationError {
	fields := make([]string, 0, len(errors))
	for f := range errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return ValidationError{
		Status:  http.StatusBadRequest,
		Message: "missing or invalid field(s): " + strings.Join(fields, ", "),
		Errors:  errors,
	}
}

type JobAccepted struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

type UploadResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Pages  int    `json:"pages"`
}
