// Package web serves a read-only transcript viewer for stored
// conversations.
package web

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/nugget/ember-agent/internal/memory"
)

// WebServer holds the parsed templates and the conversation store the
// transcript pages read from.
type WebServer struct {
	store     *memory.Store
	logger    *slog.Logger
	templates map[string]*template.Template
}

// RegisterRoutes adds the transcript UI routes to a mux.
func RegisterRoutes(mux *http.ServeMux, store *memory.Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebServer{
		store:     store,
		logger:    logger,
		templates: loadTemplates(),
	}

	mux.HandleFunc("GET /transcripts", s.handleTranscriptList)
	mux.HandleFunc("GET /transcripts/{id}", s.handleTranscript)
}
