package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reviewline/internal/domain"
	"reviewline/internal/engine"
	"reviewline/internal/metrics"
	"reviewline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
	// Registry serves /metrics; nil uses the default prometheus registry.
	Registry *prometheus.Registry
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lease_required"`
	Message string         `json:"message" example:"reviewer r1 holds no lease on t1"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the review API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if cfg.Registry != nil {
		gatherer, registerer = cfg.Registry, cfg.Registry
	}
	metrics.Register(registerer)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine, logger))
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	hcfg := huma.DefaultConfig("Reviewline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerReasons(group)
	registerQueues(group, cfg.Engine)
	registerCommit(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ue *engine.UnauthorizedItemError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusForbidden, "lease_required", err.Error(), map[string]any{"items": ue.ItemIDs})
	}
	if errors.Is(err, engine.ErrInvalidDecision) {
		return newAPIError(http.StatusBadRequest, "invalid_decision", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "under review"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "only public"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{{"bearerAuth": {}}, {"apiKeyAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "reject-reasons"): true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Reviewline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current reviewer",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ReviewerID:  p.ReviewerID,
			Email:       p.Email,
			Permissions: nonNilSlice(p.Permissions),
			Source:      p.Source,
		}}, nil
	})
}

func registerReasons(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "reject-reasons",
		Method:      http.MethodGet,
		Path:        "/reject-reasons",
		Summary:     "Rejection reason catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.RejectReason `json:"body"`
	}, error) {
		return &struct {
			Body []domain.RejectReason `json:"body"`
		}{Body: domain.RejectReasons()}, nil
	})
}

func registerQueues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "acquire",
		Method:      http.MethodPost,
		Path:        "/queues/{category}/acquire",
		Summary:     "Top up the caller's review queue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Category string `path:"category" enum:"standard,flagged,rereview"`
		Target   int    `query:"target" minimum:"0"`
	}) (*struct {
		Body QueueResponse `json:"body"`
	}, error) {
		category, err := domain.ParseCategory(input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := requirePermission(ctx, categoryPermission(category))
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.AcquireBatch(ctx, p.ReviewerID, category, input.Target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueResponse `json:"body"`
		}{Body: QueueResponse{Category: category, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "held",
		Method:      http.MethodGet,
		Path:        "/queues/{category}",
		Summary:     "Items the caller holds without refreshing leases",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Category string `path:"category" enum:"standard,flagged,rereview"`
	}) (*struct {
		Body QueueResponse `json:"body"`
	}, error) {
		category, err := domain.ParseCategory(input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := requirePermission(ctx, categoryPermission(category))
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.HeldItems(ctx, p.ReviewerID, category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueResponse `json:"body"`
		}{Body: QueueResponse{Category: category, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release",
		Method:      http.MethodPost,
		Path:        "/queues/{category}/release",
		Summary:     "Release the caller's leases; category all releases every queue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Category string `path:"category" enum:"standard,flagged,rereview,all"`
	}) (*struct {
		Body ReleaseResponse `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var category domain.Category
		if input.Category != "all" {
			category = domain.Category(input.Category)
		}
		n, err := e.Release(ctx, p.ReviewerID, category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseResponse `json:"body"`
		}{Body: ReleaseResponse{Released: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leases",
		Method:      http.MethodGet,
		Path:        "/leases",
		Summary:     "Every lease row",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Lease `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermAdmin); err != nil {
			return nil, handleError(err)
		}
		leases, err := e.Leases(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Lease `json:"body"`
		}{Body: nonNilSlice(leases)}, nil
	})
}

func registerCommit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "commit",
		Method:      http.MethodPost,
		Path:        "/commit",
		Summary:     "Commit a batch of review decisions",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CommitRequest `json:"body"`
	}) (*struct {
		Body CommitResponse `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermReview)
		if err != nil {
			// Senior reviewers working only the flagged queue commit too.
			if p, err = requirePermission(ctx, PermReviewFlagged); err != nil {
				return nil, handleError(err)
			}
		}
		decisions := make([]domain.Decision, 0, len(input.Body.Decisions))
		for _, d := range input.Body.Decisions {
			dec, err := d.decision()
			if err != nil {
				return nil, handleError(fmt.Errorf("%w: %v", engine.ErrInvalidDecision, err))
			}
			decisions = append(decisions, dec)
		}
		res, err := e.Commit(ctx, p.Reviewer(), decisions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitResponse `json:"body"`
		}{Body: commitResponse(res)}, nil
	})
}

func parseCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": raw})
	}
	return v, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func page(records []domain.AuditRecord, limit int) paginatedAudit {
	resp := paginatedAudit{Items: []AuditResponse{}}
	if len(records) > limit {
		records = records[:limit]
		resp.NextCursor = strconv.FormatInt(records[limit-1].ID, 10)
	}
	for _, rec := range records {
		resp.Items = append(resp.Items, auditResponse(rec))
	}
	return resp
}

func registerHistory(api huma.API, e engine.Engine) {
	type pageQuery struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "The caller's review decisions, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *pageQuery) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		records, err := e.History(ctx, p.ReviewerID, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: page(records, limit)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "Global review log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *pageQuery) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermReview); err != nil {
			return nil, handleError(err)
		}
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		records, err := e.Logs(ctx, limit+1, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: page(records, limit)}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "Every item eligible for a review queue",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Category string `query:"category" enum:"standard,flagged,rereview" default:"standard"`
	}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		category, err := domain.ParseCategory(input.Category)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := requirePermission(ctx, categoryPermission(category)); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListQueue(ctx, category)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deleted",
		Method:      http.MethodGet,
		Path:        "/items/deleted",
		Summary:     "Items removed by their owners",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermReview); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListDeleted(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "One item and whether the caller may review it",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ItemViewResponse `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermReview)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.Single(ctx, p.ReviewerID, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemViewResponse `json:"body"`
		}{Body: itemViewResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Add an item to the standard queue",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermSubmit)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := e.Submit(ctx, engine.SubmitOptions{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			OwnerID:    input.Body.OwnerID,
			OwnerEmail: input.Body.OwnerEmail,
			Header:     input.Body.Header,
			Footer:     input.Body.Footer,
			ActorID:    p.ReviewerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restage-item",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/restage",
		Summary:     "Stage replacement content on a public item",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string         `path:"item_id"`
		Body   RestageRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermSubmit)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := e.Restage(ctx, input.ItemID, input.Body.Header, input.Body.Footer, p.ReviewerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-item",
		Method:      http.MethodDelete,
		Path:        "/items/{item_id}",
		Summary:     "Mark an item deleted",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermSubmit)
		if err != nil {
			return nil, handleError(err)
		}
		it, err := e.Delete(ctx, input.ItemID, p.ReviewerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Item counts per status",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, PermReview); err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key acting as a reviewer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, PermAdmin)
		if err != nil {
			return nil, handleError(err)
		}
		key, secret, err := e.CreateAPIKey(ctx, input.Body.ReviewerID, input.Body.Email, input.Body.Name, input.Body.Permissions, p.ReviewerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys; admins see every key, others their own",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		p, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := p.ReviewerID
		if hasPermission(p.Permissions, PermAdmin) {
			owner = ""
		}
		keys, err := e.ListAPIKeys(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNilSlice(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		p, err := requirePermission(ctx, PermAdmin)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := e.RevokeAPIKey(ctx, input.KeyID, p.ReviewerID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		reviewer := strings.TrimSpace(input.Body.ReviewerID)
		if reviewer == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reviewer_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, reviewer, input.Body.Email, input.Body.Permissions, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
