package planner

import (
	validation "github.com/graphgate/graphgate/internal/validation"
)

// ServerError is a GraphQL response error.
type ServerError struct {
	Message    string                `json:"message"`
	Path       []any                 `json:"path,omitempty"`
	Locations  []validation.Location `json:"locations,omitempty"`
	Extensions map[string]any        `json:"extensions,omitempty"`
}

func NewServerError(message string) *ServerError {
	return &ServerError{Message: message}
}

func (e *ServerError) Error() string { return e.Message }

// Response is the GraphQL response shape received from subgraphs and returned
// to clients.
type Response struct {
	Data       any               `json:"data"`
	Errors     []*ServerError    `json:"errors,omitempty"`
	Extensions map[string]any    `json:"extensions,omitempty"`
	Headers    map[string]string `json:"-"`
}

// ErrorResponse builds a data-less response from validation errors.
func ErrorResponse(errs []*validation.Error) *Response {
	resp := &Response{}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, &ServerError{
			Message:   err.Message,
			Locations: err.Locations,
		})
	}
	return resp
}
