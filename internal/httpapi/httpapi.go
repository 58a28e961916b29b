// Package httpapi is the thin HTTP/JSON boundary of spec.md §6.2/§6.3: it
// decodes request bodies, extracts the x-api-key header, calls into
// internal/dispatcher, and renders the response with the right
// content-type. It carries no request-processing logic of its own beyond
// wire-shape translation — spec.md §6 places the core's semantics in the
// dispatcher, not at this boundary.
package httpapi

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/logicalclocks/rdrs2go/internal/apierrors"
	"github.com/logicalclocks/rdrs2go/internal/bufpool"
	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/logicalclocks/rdrs2go/internal/dispatcher"
	"github.com/logicalclocks/rdrs2go/internal/log"
	"github.com/logicalclocks/rdrs2go/internal/metrics"
	"github.com/logicalclocks/rdrs2go/internal/ronsql/printer"
)

// Server wires a dispatcher into net/http's ServeMux-based routing
// (spec.md §6: "internal/httpapi uses net/http+stdlib ServeMux").
type Server struct {
	Dispatcher *dispatcher.Dispatcher
	Bufs       *bufpool.Pool
}

// New constructs a Server.
func New(d *dispatcher.Dispatcher, bufs *bufpool.Pool) *Server {
	return &Server{Dispatcher: d, Bufs: bufs}
}

// Handler builds the routed http.Handler for every surface of spec.md
// §6.2 plus /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{version}/{db}/{table}/pk-read", s.handlePKRead)
	mux.HandleFunc("POST /{version}/batch", s.handleBatch)
	mux.HandleFunc("POST /{version}/feature_store", s.handleFeatureStore)
	mux.HandleFunc("POST /{version}/batch_feature_store", s.handleBatchFeatureStore)
	mux.HandleFunc("POST /{version}/ronsql", s.handleRonSQL)
	mux.HandleFunc("GET /{version}/ping", s.handlePing)
	mux.HandleFunc("GET /{version}/stat", s.handleStat)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// ListenAndServe starts the HTTP server; tlsCfg may be nil (plaintext,
// internal/tlsutil.Build returns nil when Security.TLS.EnableTLS is false).
func (s *Server) ListenAndServe(addr string, tlsCfg *tls.Config) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if tlsCfg != nil {
		srv.TLSConfig = tlsCfg
		return srv.ListenAndServeTLS("", "")
	}
	return srv.ListenAndServe()
}

func apiKeyFromHeader(r *http.Request) string {
	return r.Header.Get("x-api-key")
}

func writeError(w http.ResponseWriter, route string, err error) {
	apiErr, ok := err.(*apierrors.Error)
	if !ok {
		apiErr = apierrors.PermanentErr("INTERNAL", "unexpected error", err)
	}
	metrics.RequestsTotal.WithLabelValues(route, apiErr.Kind.String()).Inc()
	log.WithComponent("httpapi").Warn().Str("route", route).Str("code", apiErr.Code).Err(apiErr).Msg("request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.Message,
		"retry":   apiErr.Retry,
	})
}

func writeJSON(w http.ResponseWriter, route string, status int, v any) {
	metrics.RequestsTotal.WithLabelValues(route, "OK").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- generic PK-read surfaces (spec.md §4.11) ---

type filterJSON struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

type readColumnJSON struct {
	Name       string `json:"name"`
	ReturnType int32  `json:"dataReturnType,omitempty"`
}

type rawPKReadRequestJSON struct {
	Filters     []filterJSON     `json:"filters"`
	ReadColumns []readColumnJSON `json:"readColumns"`
	OperationID string           `json:"operationId"`
}

type columnValueJSON struct {
	Name   string `json:"name"`
	Value  string `json:"value,omitempty"`
	IsNull bool   `json:"isNull"`
}

type pkReadResponseJSON struct {
	OperationID string            `json:"operationId,omitempty"`
	Status      int               `json:"status"`
	Message     string            `json:"message,omitempty"`
	Columns     []columnValueJSON `json:"columns,omitempty"`
}

func toPKReadRequest(db, table string, body rawPKReadRequestJSON) dal.PKReadRequest {
	req := dal.PKReadRequest{DB: db, Table: table, OperationID: body.OperationID}
	for _, f := range body.Filters {
		req.Filters = append(req.Filters, dal.Filter{Column: f.Column, Value: []byte(f.Value)})
	}
	for _, c := range body.ReadColumns {
		req.ReadColumns = append(req.ReadColumns, dal.ReadColumn{Name: c.Name, ReturnType: c.ReturnType})
	}
	return req
}

func toResponseJSON(resp dal.PKReadResponse) pkReadResponseJSON {
	out := pkReadResponseJSON{OperationID: resp.OperationID, Status: resp.Status, Message: resp.Message}
	for _, c := range resp.Columns {
		out.Columns = append(out.Columns, columnValueJSON{Name: c.Name, Value: string(c.Value), IsNull: c.IsNull})
	}
	return out
}

func (s *Server) handlePKRead(w http.ResponseWriter, r *http.Request) {
	const route = "pk-read"
	var body rawPKReadRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, route, apierrors.ClientErr("BAD_REQUEST_BODY", err.Error()))
		return
	}
	req := toPKReadRequest(r.PathValue("db"), r.PathValue("table"), body)
	resp, err := s.Dispatcher.Raw().Read(r.Context(), req, int(r.ContentLength))
	if err != nil {
		writeError(w, route, err)
		return
	}
	writeJSON(w, route, http.StatusOK, toResponseJSON(resp))
}

type batchRequestJSON struct {
	Operations []struct {
		DB    string `json:"db"`
		Table string `json:"table"`
		rawPKReadRequestJSON
	} `json:"operations"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	const route = "batch"
	var body batchRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, route, apierrors.ClientErr("BAD_REQUEST_BODY", err.Error()))
		return
	}
	reqs := make([]dal.PKReadRequest, len(body.Operations))
	for i, op := range body.Operations {
		reqs[i] = toPKReadRequest(op.DB, op.Table, op.rawPKReadRequestJSON)
	}
	resps, err := s.Dispatcher.Raw().Batch(r.Context(), reqs, int(r.ContentLength))
	if err != nil {
		writeError(w, route, err)
		return
	}
	out := make([]pkReadResponseJSON, len(resps))
	for i, resp := range resps {
		out[i] = toResponseJSON(resp)
	}
	writeJSON(w, route, http.StatusOK, map[string]any{"operations": out})
}

// --- feature-vector surfaces (spec.md §6.2) ---

func (s *Server) handleFeatureStore(w http.ResponseWriter, r *http.Request) {
	const route = "feature_store"
	var req dispatcher.FeatureVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, route, apierrors.ClientErr("BAD_REQUEST_BODY", err.Error()))
		return
	}
	req.APIKey = apiKeyFromHeader(r)

	resp, err := s.Dispatcher.HandleFeatureVector(r.Context(), req, int(r.ContentLength))
	if err != nil {
		writeError(w, route, err)
		return
	}
	writeJSON(w, route, http.StatusOK, resp)
}

type batchFeatureVectorRequestJSON struct {
	FeatureStoreName   string           `json:"featureStoreName"`
	FeatureViewName    string           `json:"featureViewName"`
	FeatureViewVersion int              `json:"featureViewVersion"`
	Entries            []map[string]any `json:"entries"`
	PassedFeatures     []map[string]any `json:"passedFeatures"`
}

func (s *Server) handleBatchFeatureStore(w http.ResponseWriter, r *http.Request) {
	const route = "batch_feature_store"
	var body batchFeatureVectorRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, route, apierrors.ClientErr("BAD_REQUEST_BODY", err.Error()))
		return
	}
	out, err := s.Dispatcher.HandleBatchFeatureVector(r.Context(), body.FeatureStoreName, body.FeatureViewName,
		body.FeatureViewVersion, body.Entries, body.PassedFeatures, apiKeyFromHeader(r), int(r.ContentLength))
	if err != nil {
		writeError(w, route, err)
		return
	}
	writeJSON(w, route, http.StatusOK, out)
}

// --- aggregation SQL surface (spec.md §6.3) ---

type ronsqlRequestJSON struct {
	Query        string `json:"query"`
	Database     string `json:"database"`
	ExplainMode  string `json:"explainMode"`
	OutputFormat string `json:"outputFormat"`
	OperationID  string `json:"operationId"`
}

// applyExplainMode implements spec.md §6.3's explainMode: ALLOW leaves the
// query's own EXPLAIN prefix in charge; FORBID/REQUIRE reject a
// mismatched prefix; REMOVE silently strips it; FORCE runs in explain
// mode regardless of what the query text says.
func applyExplainMode(query, mode string) (string, bool, error) {
	trimmed := strings.TrimSpace(query)
	hasPrefix := len(trimmed) >= 7 && strings.EqualFold(trimmed[:7], "EXPLAIN")

	switch strings.ToUpper(mode) {
	case "", "ALLOW":
		return query, false, nil
	case "FORBID":
		if hasPrefix {
			return "", false, apierrors.ClientErr("EXPLAIN_FORBIDDEN", "EXPLAIN is not permitted for this request")
		}
		return query, false, nil
	case "REQUIRE":
		if !hasPrefix {
			return "", false, apierrors.ClientErr("EXPLAIN_REQUIRED", "this request requires an EXPLAIN prefix")
		}
		return query, false, nil
	case "REMOVE":
		if hasPrefix {
			return strings.TrimSpace(trimmed[7:]), false, nil
		}
		return query, false, nil
	case "FORCE":
		if hasPrefix {
			return strings.TrimSpace(trimmed[7:]), true, nil
		}
		return query, true, nil
	default:
		return "", false, apierrors.ClientErr("BAD_EXPLAIN_MODE", "unrecognized explainMode: "+mode)
	}
}

func outputFormat(name string) (printer.Format, string, error) {
	switch strings.ToUpper(name) {
	case "", "JSON":
		return printer.Format{JSON: true}, "application/json", nil
	case "JSON_ASCII":
		return printer.Format{JSON: true, ASCIIEscape: true}, "application/json; charset=US-ASCII", nil
	case "TEXT":
		return printer.Format{JSON: false, TSVHeader: true}, "text/tab-separated-values; charset=utf-8; header=present", nil
	case "TEXT_NOHEADER":
		return printer.Format{JSON: false, TSVHeader: false}, "text/tab-separated-values; charset=utf-8; header=absent", nil
	default:
		return printer.Format{}, "", apierrors.ClientErr("BAD_OUTPUT_FORMAT", "unrecognized outputFormat: "+name)
	}
}

func (s *Server) handleRonSQL(w http.ResponseWriter, r *http.Request) {
	const route = "ronsql"
	var body ronsqlRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, route, apierrors.ClientErr("BAD_REQUEST_BODY", err.Error()))
		return
	}

	query, forceExplain, err := applyExplainMode(body.Query, body.ExplainMode)
	if err != nil {
		writeError(w, route, err)
		return
	}
	fmtOpt, contentType, err := outputFormat(body.OutputFormat)
	if err != nil {
		writeError(w, route, err)
		return
	}

	res, err := s.Dispatcher.HandleAggregation(r.Context(), dispatcher.AggregationRequest{
		DB:      body.Database,
		Query:   query,
		Explain: forceExplain,
		APIKey:  apiKeyFromHeader(r),
		Format:  fmtOpt,
	}, int(r.ContentLength))
	if err != nil {
		writeError(w, route, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(route, "OK").Inc()
	if res.Explain {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Body))
}

// --- health and pool statistics (spec.md §6.2) ---

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type poolStatsJSON struct {
	Allocations   uint64 `json:"allocations"`
	Deallocations uint64 `json:"deallocations"`
	Live          uint64 `json:"live"`
	Free          uint64 `json:"free"`
}

func toPoolStatsJSON(s bufpool.Stats) poolStatsJSON {
	return poolStatsJSON{Allocations: s.Allocations, Deallocations: s.Deallocations, Live: s.Live, Free: s.Free}
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, "stat", http.StatusOK, map[string]poolStatsJSON{
		"request":  toPoolStatsJSON(s.Bufs.RequestStats()),
		"response": toPoolStatsJSON(s.Bufs.ResponseStats()),
	})
}
