package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"storecast/internal/catalog"
	"storecast/internal/domain"
	"storecast/internal/engine"
	"storecast/internal/platform"
)

const apiPrefix = "/api"

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	Logger *slog.Logger
	// MaxUploadBytes bounds the multipart create body; zero means 10 MiB.
	MaxUploadBytes int64
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"no valid targets"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the storecast API.
func New(cfg Config) (http.Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request schema violations are plain bad requests here
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware(logger))

	hcfg := huma.DefaultConfig("storecast API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, apiPrefix)

	registerDocs(router)
	registerHealth(group)
	registerVerify(group, cfg.Engine)
	registerCreate(group, cfg.Engine, maxUpload)
	registerItems(group, cfg.Engine)
	registerDelete(group, cfg.Engine)
	registerOpenAPI(router, api)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Reason, nil)
	}
	var te *platform.TimeoutError
	if errors.As(err, &te) {
		return newAPIError(http.StatusGatewayTimeout, "upstream_timeout", err.Error(), map[string]any{"attempts": te.Attempts})
	}
	var ae *platform.APIError
	if errors.As(err, &ae) {
		details := map[string]any{"upstream_status": ae.StatusCode}
		if ae.StatusCode == http.StatusNotFound {
			return newAPIError(http.StatusNotFound, "not_found", err.Error(), details)
		}
		details["upstream_body"] = ae.Body
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusGatewayTimeout:
		return "upstream_timeout"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"event", "http_request",
				"module", "server",
				"request_id", RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(apiPrefix+"/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>storecast API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, apiPrefix+"/openapi.json")
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerVerify(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-users",
		Method:      http.MethodPost,
		Path:        "/verify-users",
		Summary:     "Resolve store ids to directory accounts",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body VerifyRequest
	}) (*struct {
		Body engine.VerifyResult
	}, error) {
		res, err := e.Verify(ctx, input.Body.StoreIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VerifyResult
		}{Body: res}, nil
	})
}

func registerCreate(api huma.API, e engine.Engine, maxUpload int64) {
	huma.Register(api, huma.Operation{
		OperationID:  "create",
		Method:       http.MethodPost,
		Path:         "/create",
		Summary:      "Create a distribution",
		Description:  "Multipart fields: verifiedUsers (JSON accounts) or storeIds (JSON array), title, department, optional files taskCsv and profileCsv.",
		MaxBodyBytes: maxUpload,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body CreateResponse
	}, error) {
		req, err := createRequestFromForm(&input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Create(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateResponse
		}{Body: CreateResponse{Success: true, CreateResult: res}}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List distributions, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Department string `query:"department" doc:"case-insensitive department"`
		Status     string `query:"status" doc:"draft, scheduled or published"`
		Q          string `query:"q" doc:"title substring"`
	}) (*struct {
		CacheControl string `header:"Cache-Control"`
		Body         engine.ListResult
	}, error) {
		filter := catalog.Filter{Department: input.Department, Query: input.Q}
		if input.Status != "" {
			status, ok := domain.ParseLifecycleStatus(strings.ToLower(input.Status))
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status "+input.Status, nil)
			}
			filter.Status = status
		}
		return &struct {
			CacheControl string `header:"Cache-Control"`
			Body         engine.ListResult
		}{CacheControl: "no-store", Body: e.List(ctx, filter)}, nil
	})
}

func registerDelete(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "delete",
		Method:      http.MethodDelete,
		Path:        "/delete/{id}",
		Summary:     "Delete a distribution",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SuccessResponse
	}, error) {
		if err := e.Delete(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuccessResponse
		}{Body: SuccessResponse{Success: true}}, nil
	})
}
