package vtrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// Validator checks incoming requests against the OpenAPI document.
type Validator struct {
	router routers.Router
}

// NewValidator loads and validates the embedded OpenAPI document.
func NewValidator(ctx context.Context) (*Validator, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	// Match on path only; the service is reachable under any host name.
	doc.Servers = nil

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create openapi router: %w", err)
	}
	return &Validator{router: router}, nil
}

// Validate returns nil when r matches an operation and satisfies its
// parameter and body schemas. Unknown routes return a *routers.RouteError.
func (v *Validator) Validate(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError: true,
		},
	})
}

// Middleware rejects requests that do not satisfy the OpenAPI document
// before they reach next.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := v.Validate(r)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}
		var routeErr *routers.RouteError
		switch {
		case !errors.As(err, &routeErr):
			WriteJSON(w, http.StatusBadRequest, Error{Code: CodeInvalidRequest, Message: err.Error()})
		case routeErr.Reason == routers.ErrMethodNotAllowed.Error():
			WriteJSON(w, http.StatusMethodNotAllowed, Error{Code: CodeInvalidRequest, Message: err.Error()})
		default:
			WriteJSON(w, http.StatusNotFound, Error{Code: CodeNotFound, Message: err.Error()})
		}
	})
}

// WriteJSON writes body as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
