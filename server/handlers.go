package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/INLOpen/nexuslog/codec"
	"github.com/INLOpen/nexuslog/core"
	"github.com/INLOpen/nexuslog/query"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"
)

// maxIngestBody caps one ingest request.
const maxIngestBody = 16 << 20

type handlers struct {
	store           LogStore
	defaultPageSize int
	parsers         fastjson.ParserPool
	logger          *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Metrics().Snapshot().Formatted())
}

// handleResetLatency clears the latency maxima and returns the fresh
// snapshot.
func (h *handlers) handleResetLatency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Only GET and POST are allowed", http.StatusMethodNotAllowed)
		return
	}
	h.store.ResetLatency()
	h.logger.Info("Write latency metrics reset", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, h.store.Metrics().Snapshot().Formatted())
}

func (h *handlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.search(w, r, req)
}

func (h *handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON format: "+err.Error())
		return
	}
	h.search(w, r, req)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request, req query.Request) {
	res, err := h.store.Search(r.Context(), req, h.defaultPageSize)
	if err != nil {
		if errors.Is(err, query.ErrInvalidExpression) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Search failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseQueryRequest reads a query.Request from URL parameters.
func parseQueryRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	var req query.Request
	var err error
	if req.StartTime, err = query.ParseTime(q.Get("startTime")); err != nil {
		return req, fmt.Errorf("startTime: %w", err)
	}
	if req.EndTime, err = query.ParseTime(q.Get("endTime")); err != nil {
		return req, fmt.Errorf("endTime: %w", err)
	}
	req.Path = q.Get("path")
	req.ErrorKeyword = q.Get("errorKeyword")
	req.Expr = q.Get("expr")

	ints := []struct {
		name string
		dst  *int64
	}{
		{"minDuration", &req.MinDuration},
		{"maxDuration", &req.MaxDuration},
	}
	for _, p := range ints {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				return req, fmt.Errorf("%s: %w", p.name, err)
			}
		}
	}
	for name, dst := range map[string]*int{"statusCode": &req.StatusCode, "page": &req.Page, "pageSize": &req.PageSize} {
		if v := q.Get(name); v != "" {
			if *dst, err = strconv.Atoi(v); err != nil {
				return req, fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return req, nil
}

// handleIngest stores one JSON record or an array of them. Records without
// an id get a fresh one; records without a request time are stamped now.
func (h *handlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	p := h.parsers.Get()
	defer h.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format: "+err.Error())
		return
	}

	var items []*fastjson.Value
	switch v.Type() {
	case fastjson.TypeArray:
		items, _ = v.Array()
	case fastjson.TypeObject:
		items = []*fastjson.Value{v}
	default:
		writeError(w, http.StatusBadRequest, "expected a JSON object or array of objects")
		return
	}

	now := time.Now().UnixMilli()
	recs := make([]*core.CallRecord, 0, len(items))
	for i, item := range items {
		if item.Type() != fastjson.TypeObject {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d is not an object", i))
			return
		}
		rec := codec.RecordFromJSON(item)
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.RequestTime == 0 {
			rec.RequestTime = now
		}
		recs = append(recs, &rec)
	}

	if err := h.store.StoreBatch(r.Context(), recs); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("Ingest failed", "records", len(recs), "error", err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(recs)})
}
