package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/catalog"
	"github.com/yuridevx/proxyhub/pkg/health"
	"github.com/yuridevx/proxyhub/pkg/importer"
	"github.com/yuridevx/proxyhub/pkg/providers"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/store"
	"go.uber.org/zap"
)

const maxBodyBytes = 16 << 20

var errBadBody = errors.New("invalid request body")

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Server struct {
	log      *zap.Logger
	catalog  *catalog.Catalog
	importer *importer.Importer
	tracker  *health.Tracker
	gatherer prometheus.Gatherer
	owner    OwnerResolver
}

type Option func(*Server)

func WithOwnerResolver(r OwnerResolver) Option {
	return func(s *Server) {
		s.owner = r
	}
}

// WithGatherer exposes the given registry on /metrics instead of the
// default one.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func NewServer(log *zap.Logger, cat *catalog.Catalog, imp *importer.Importer, tr *health.Tracker, options ...Option) *Server {
	s := &Server{
		log:      log,
		catalog:  cat,
		importer: imp,
		tracker:  tr,
		gatherer: prometheus.DefaultGatherer,
		owner:    HeaderOwner,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", http.HandlerFunc(s.healthz))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/proxy/get-all", s.withOwner(s.getAll))
	mux.Handle("POST /api/proxy/add", s.withOwner(s.add))
	mux.Handle("POST /api/proxy/update", s.withOwner(s.update))
	mux.Handle("POST /api/proxy/delete-multiple", s.withOwner(s.deleteMultiple))
	mux.Handle("POST /api/proxy/test", s.withOwner(s.test))
	mux.Handle("POST /api/proxy/test-multiple", s.withOwner(s.testMultiple))
	mux.Handle("GET /api/proxy/test-multiple/stream", s.withOwner(s.testMultipleStream))
	mux.Handle("POST /api/proxy/import", s.withOwner(s.importText))
	mux.Handle("POST /api/proxy/import-url", s.withOwner(s.importURL))
	mux.Handle("POST /api/proxy/export", s.withOwner(s.export))
	mux.Handle("POST /api/proxy/copy-selected", s.withOwner(s.copySelected))
	mux.Handle("POST /api/proxy/stats", s.withOwner(s.stats))
	mux.Handle("POST /api/proxy/get-live", s.withOwner(s.getLive))

	mux.Handle("POST /api/tag/get-all", s.withOwner(s.tags))
	mux.Handle("POST /api/tag/create", s.withOwner(s.createTag))

	return s.withRequestID(s.withLogging(mux))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) getAll(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var q domain.ListQuery
	if err := decode(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.catalog.List(r.Context(), ownerID, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, page)
}

func (s *Server) add(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var in domain.ProxyInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.importer.AddProxy(r.Context(), ownerID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Proxy added", Data: p})
}

type updateRequest struct {
	ID   int64             `json:"id"`
	Data domain.ProxyInput `json:"data"`
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req updateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.importer.UpdateProxy(r.Context(), ownerID, req.ID, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, p)
}

type idsRequest struct {
	IDs      []int64 `json:"ids"`
	ProxyIDs []int64 `json:"proxyIds"`
}

func (req idsRequest) all() []int64 {
	return append(append([]int64{}, req.IDs...), req.ProxyIDs...)
}

func (s *Server) deleteMultiple(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req idsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.catalog.Delete(r.Context(), ownerID, req.all())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, map[string]int{"deleted": n})
}

func (s *Server) test(w http.ResponseWriter, r *http.Request, _ int64) {
	var in domain.ProxyInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.tracker.TestOne(r.Context(), in.Candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "Proxy is working"
	if !res.Live() {
		msg = "Proxy not working"
	}
	writeJSON(w, http.StatusOK, envelope{Success: res.Live(), Message: msg, Data: res})
}

func (s *Server) testMultiple(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req idsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.tracker.TestProxies(r.Context(), ownerID, req.all(), nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, report)
}

type importRequest struct {
	ProxyText string   `json:"proxyText"`
	URL       string   `json:"url"`
	Tags      []string `json:"tags"`
}

func (s *Server) importText(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, s.importer.Import(r.Context(), ownerID, req.ProxyText, req.Tags))
}

func (s *Server) importURL(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.importer.ImportURL(r.Context(), ownerID, req.URL, req.Tags)
	switch {
	case errors.Is(err, providers.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Warn("import url failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to fetch proxy list")
		return
	}
	ok(w, report)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var q domain.ListQuery
	if err := decode(r, &q); err != nil {
		s.fail(w, r, err)
		return
	}
	text, err := s.catalog.Export(r.Context(), ownerID, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, text)
}

func (s *Server) copySelected(w http.ResponseWriter, r *http.Request, ownerID int64) {
	var req idsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	text, err := s.catalog.CopySelected(r.Context(), ownerID, req.all())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, text)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request, ownerID int64) {
	stats, err := s.catalog.Stats(r.Context(), ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, stats)
}

func (s *Server) getLive(w http.ResponseWriter, r *http.Request, ownerID int64) {
	live, err := s.catalog.Live(r.Context(), ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, live)
}

func (s *Server) tags(w http.ResponseWriter, r *http.Request, _ int64) {
	tags, err := s.catalog.Tags(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, tags)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request, _ int64) {
	var req struct {
		TagName string `json:"tagName"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tag, err := s.catalog.CreateTag(r.Context(), req.TagName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, tag)
}

// fail maps domain errors to a status code. Anything unexpected is logged
// and answered with a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *proxyline.ValidationError
	switch {
	case errors.Is(err, errBadBody):
		writeError(w, http.StatusBadRequest, errBadBody.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, catalog.ErrEmptyTagName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Proxy not found")
	case errors.Is(err, context.Canceled):
		s.log.Debug("request canceled", zap.String("path", r.URL.Path))
		writeError(w, http.StatusServiceUnavailable, "Request canceled")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadBody, err)
	}
	return nil
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
