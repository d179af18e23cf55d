package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drukbooks/drukbooks/internal/bills"
	"github.com/drukbooks/drukbooks/internal/gst"
	"github.com/drukbooks/drukbooks/internal/invoices"
	"github.com/drukbooks/drukbooks/internal/notes"
	"github.com/drukbooks/drukbooks/internal/observability"
	"github.com/drukbooks/drukbooks/internal/quotations"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	InvoiceHandler   *invoices.Handler
	BillHandler      *bills.Handler
	NoteHandler      *notes.Handler
	QuotationHandler *quotations.Handler
	GstHandler       *gst.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with DrukBooks defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(actorMiddleware(params.Logger))
		r.Route("/invoices", params.InvoiceHandler.MountRoutes)
		r.Route("/bills", params.BillHandler.MountRoutes)
		r.Route("/notes", params.NoteHandler.MountRoutes)
		r.Route("/quotations", params.QuotationHandler.MountRoutes)
		r.Route("/gst", params.GstHandler.MountRoutes)
	})

	return r
}
