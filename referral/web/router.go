package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unionhall/referral-app/referral/logging"
	"github.com/unionhall/referral-app/referral/monitoring"
)

func NewAPIRouter(api *API) http.Handler {
	r := chi.NewRouter()
	m := monitoring.GetMonitor()
	r.Use(middleware.RequestID, logging.NewStructuredLogger(), ConnectionClose)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get(m.WrapHandler("/books", api.listBooks))
		r.Get(m.WrapHandler("/books/{bookID}/queue", api.bookQueue))
		r.Get(m.WrapHandler("/workers/{workerID}/history", api.workerHistory))
		r.Get(m.WrapHandler("/requests", api.openRequests))
	})
	r.Get(m.WrapHandler("/_version", api.getVersion))
	r.Get(m.WrapHandler("/_health", api.healthCheck))
	return r
}

// ConnectionClose sets Connection: close on every response so load balancers
// do not pin long-lived connections to one instance.
func ConnectionClose(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}
