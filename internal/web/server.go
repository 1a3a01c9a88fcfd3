// Package web provides the HTTP status page and a wired history download for
// the air-sensor daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/air-sensor/internal/record"
	"github.com/sweeney/air-sensor/internal/status"
	"github.com/sweeney/air-sensor/internal/storage"
)

// historyBatch is the number of records read from the store per write.
const historyBatch = 100

// History is the read side of the log store.
type History interface {
	Window() (start, end uint64)
	ReadRange(start uint64, count int) []storage.Entry
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    History // nil disables /history.txt
}

// New creates a Server that reads state from tracker and, when history is
// non-nil, serves the log.
func New(addr string, tracker *status.Tracker, history History) *Server {
	s := &Server{tracker: tracker, history: history}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	if history != nil {
		mux.HandleFunc("GET /history.txt", s.handleHistory)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

// handleHistory streams retained records in the same text form the radio
// transfer uses. ?from= is a logical index, clamped to the retained window;
// ?limit= caps the record count. The X-Log-Start and X-Log-End headers always
// report the retained window, whatever range was requested. Holes are skipped.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	start, winEnd := s.history.Window()

	from, end := start, winEnd
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad from", http.StatusBadRequest)
			return
		}
		from = max(n, start)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		if from < end && n < end-from {
			end = from + n
		}
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Log-Start", strconv.FormatUint(start, 10))
	h.Set("X-Log-End", strconv.FormatUint(winEnd, 10))

	var buf []byte
	for idx := from; idx < end; idx += historyBatch {
		buf = buf[:0]
		for _, e := range s.history.ReadRange(idx, int(min(historyBatch, end-idx))) {
			if e.Err == nil {
				buf = record.AppendText(buf, e.Record)
			}
		}
		if _, err := w.Write(buf); err != nil {
			return
		}
	}
}
