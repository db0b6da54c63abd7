package apispec

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Идентификаторы операций (operationId в контракте).
const (
	OpHealthLive         = "healthLive"
	OpHealthReady        = "healthReady"
	OpGetMetrics         = "getMetrics"
	OpGetLineup          = "getLineup"
	OpExportLineup       = "exportLineup"
	OpExportSharedLineup = "exportSharedLineup"
	OpExportLineupRecord = "exportLineupRecord"
	OpReceiveLineupHook  = "receiveLineupHook"
)

// LineupID — UUID lineup из пути запроса.
type LineupID = openapi_types.UUID

// ServerInterface — обработчики всех операций контракта.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/lineups/{lineup_id})
	GetLineup(w http.ResponseWriter, r *http.Request, lineupID LineupID)
	// (GET /api/v1/lineups/{lineup_id}/export)
	ExportLineup(w http.ResponseWriter, r *http.Request, lineupID LineupID)
	// (GET /api/v1/shared/{lineup_id}/export)
	ExportSharedLineup(w http.ResponseWriter, r *http.Request, lineupID LineupID)
	// (POST /api/v1/exports)
	ExportLineupRecord(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/hooks/lineups)
	ReceiveLineupHook(w http.ResponseWriter, r *http.Request)
}

// MiddlewareFunc — middleware отдельной операции.
type MiddlewareFunc func(http.Handler) http.Handler

// ChiServerOptions — параметры привязки операций к роутеру.
type ChiServerOptions struct {
	BaseURL    string
	BaseRouter chi.Router
	// OperationMiddlewares — middleware по operationId (например, RequireRole)
	OperationMiddlewares map[string][]MiddlewareFunc
	// ErrorHandlerFunc — ответ на ошибку разбора параметров
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// InvalidParamFormatError — параметр запроса не удалось разобрать.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// HandlerFromMux привязывает операции к существующему роутеру.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions привязывает операции к роутеру с параметрами.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	errorHandler := options.ErrorHandlerFunc
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}

	wrap := func(op string, h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		mws := options.OperationMiddlewares[op]
		for i := len(mws) - 1; i >= 0; i-- {
			handler = mws[i](handler)
		}
		return handler
	}

	withLineupID := func(next func(http.ResponseWriter, *http.Request, LineupID)) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			var lineupID LineupID
			err := runtime.BindStyledParameterWithOptions("simple", "lineup_id", chi.URLParam(req, "lineup_id"), &lineupID,
				runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
			if err != nil {
				errorHandler(w, req, &InvalidParamFormatError{ParamName: "lineup_id", Err: err})
				return
			}
			next(w, req, lineupID)
		}
	}

	base := options.BaseURL
	r.Group(func(r chi.Router) {
		r.Method(http.MethodGet, base+"/health/live", wrap(OpHealthLive, si.HealthLive))
		r.Method(http.MethodGet, base+"/health/ready", wrap(OpHealthReady, si.HealthReady))
		r.Method(http.MethodGet, base+"/metrics", wrap(OpGetMetrics, si.GetMetrics))
		r.Method(http.MethodGet, base+"/api/v1/lineups/{lineup_id}", wrap(OpGetLineup, withLineupID(si.GetLineup)))
		r.Method(http.MethodGet, base+"/api/v1/lineups/{lineup_id}/export", wrap(OpExportLineup, withLineupID(si.ExportLineup)))
		r.Method(http.MethodGet, base+"/api/v1/shared/{lineup_id}/export", wrap(OpExportSharedLineup, withLineupID(si.ExportSharedLineup)))
		r.Method(http.MethodPost, base+"/api/v1/exports", wrap(OpExportLineupRecord, si.ExportLineupRecord))
		r.Method(http.MethodPost, base+"/api/v1/hooks/lineups", wrap(OpReceiveLineupHook, si.ReceiveLineupHook))
	})

	return r
}
