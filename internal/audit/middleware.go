package audit

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ActorHeader names the operator performing an admin action.
const ActorHeader = "X-Operator"

// HTTPRecorder records admin mutations after they have been handled.
type HTTPRecorder struct {
	Service   Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
	// ResourceIDParam is the URL parameter holding the resource id. Defaults to "id".
	ResourceIDParam string
}

// Middleware records every non-GET request. Reads are not audited.
func (r HTTPRecorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Service.Enabled || req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions {
			next.ServeHTTP(w, req)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, req)

		route := ""
		resourceID := ""
		if rc := chi.RouteContext(req.Context()); rc != nil {
			route = rc.RoutePattern()
			resourceID = rc.URLParam(r.idParam())
		}
		if err := r.Service.Record(req.Context(), r.actor(req), req, route, resourceID, recorder.Status(), nil); err != nil && r.OnError != nil {
			r.OnError(err)
		}
	})
}

func (r HTTPRecorder) idParam() string {
	if r.ResourceIDParam == "" {
		return "id"
	}
	return r.ResourceIDParam
}

func (r HTTPRecorder) actor(req *http.Request) Actor {
	if r.ActorFunc != nil {
		return r.ActorFunc(req)
	}
	if name := strings.TrimSpace(req.Header.Get(ActorHeader)); name != "" {
		return Actor{Kind: ActorKindOperator, Name: name}
	}
	return Actor{Kind: ActorKindAnonymous}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
