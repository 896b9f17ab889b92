// Package capture turns inbound HTTP and gRPC calls into call records and
// hands them to a log store.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/nexuslog/core"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

const (
	DefaultURLPattern       = "/api/**"
	DefaultMaxContentLength = 1000
)

// Recorder is the ingestion entry point records are handed to.
type Recorder interface {
	Store(ctx context.Context, rec *core.CallRecord) error
}

type Options struct {
	// URLPatterns are Ant-style include patterns matched against the request
	// path. Empty captures every request.
	URLPatterns []string
	// ExcludeURLPatterns win over URLPatterns.
	ExcludeURLPatterns []string
	// MethodPatterns are matched against gRPC full method names. Empty
	// captures every method.
	MethodPatterns []string

	MaxContentLength int
	LogRequestBody   bool
	LogResponseBody  bool
	LogHeaders       bool

	// Processors replace the DefaultProcessor built from the fields above.
	Processors []Processor

	Hostname string
	Now      func() time.Time
	Logger   *slog.Logger
}

// DefaultOptions captures /api/** with request and response bodies.
func DefaultOptions() Options {
	return Options{
		URLPatterns:      []string{DefaultURLPattern},
		MaxContentLength: DefaultMaxContentLength,
		LogRequestBody:   true,
		LogResponseBody:  true,
	}
}

type capturer struct {
	recorder   Recorder
	patterns   []string
	excludes   []string
	readBody   bool
	processors []Processor
	hostname   string
	maxContent int
	now        func() time.Time
	logger     *slog.Logger
}

func newCapturer(recorder Recorder, opts Options, patterns []string, component string) *capturer {
	c := &capturer{
		recorder:   recorder,
		patterns:   patterns,
		processors: opts.Processors,
		// Custom processors may look at the body whatever LogRequestBody says.
		readBody:   opts.LogRequestBody || len(opts.Processors) > 0,
		hostname:   opts.Hostname,
		maxContent: opts.MaxContentLength,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", component)
	if c.now == nil {
		c.now = time.Now
	}
	if c.hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			c.logger.Warn("Failed to resolve hostname", "error", err)
			h = "unknown"
		}
		c.hostname = h
	}
	if len(c.processors) == 0 {
		c.processors = []Processor{&DefaultProcessor{
			MaxContentLength: opts.MaxContentLength,
			LogRequestBody:   opts.LogRequestBody,
			LogResponseBody:  opts.LogResponseBody,
			LogHeaders:       opts.LogHeaders,
		}}
	}
	for _, p := range c.patterns {
		if !doublestar.ValidatePattern(p) {
			c.logger.Warn("Ignoring invalid capture pattern", "pattern", p)
		}
	}
	return c
}

func (c *capturer) match(name string) bool {
	if matchAny(c.excludes, name) {
		return false
	}
	if len(c.patterns) == 0 {
		return true
	}
	return matchAny(c.patterns, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (c *capturer) newRecord(start time.Time, path, method, clientIP string) *core.CallRecord {
	return &core.CallRecord{
		ID:          uuid.NewString(),
		Hostname:    c.hostname,
		RequestTime: start.UnixMilli(),
		Path:        path,
		Method:      method,
		ClientIP:    clientIP,
	}
}

// store never fails the call being captured.
func (c *capturer) store(ctx context.Context, rec *core.CallRecord) {
	if err := c.recorder.Store(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("Failed to store call record", "path", rec.Path, "id", rec.ID, "error", err)
	}
}

// Middleware records every request whose path matches opts.URLPatterns.
// When the handler panics the record gets status 500 and the panic message,
// and the panic continues up the stack.
func Middleware(recorder Recorder, opts Options) func(http.Handler) http.Handler {
	c := newCapturer(recorder, opts, opts.URLPatterns, "CaptureMiddleware")
	c.excludes = opts.ExcludeURLPatterns
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !c.match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			var active []Processor
			for _, p := range c.processors {
				if p.ShouldHandle(r) {
					active = append(active, p)
				}
			}
			if len(active) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			c.serve(w, r, next, active)
		})
	}
}

// peekBody reads the part of the request body that can end up in the record
// and puts it back in front of the unread rest.
func (c *capturer) peekBody(r *http.Request) []byte {
	src := io.Reader(r.Body)
	if c.maxContent > 0 {
		// One byte more than kept, so truncation is still detected.
		src = io.LimitReader(r.Body, int64(c.maxContent)+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		c.logger.Warn("Failed to read request body", "path", r.URL.Path, "error", err)
	}
	r.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(b), r.Body), Closer: r.Body}
	return b
}

// replayBody serves the peeked prefix and then the original body, and closes
// the original.
type replayBody struct {
	io.Reader
	io.Closer
}

func (c *capturer) serve(w http.ResponseWriter, r *http.Request, next http.Handler, active []Processor) {
	start := c.now()
	rec := c.newRecord(start, r.URL.Path, r.Method, ClientIP(r))

	var body []byte
	if c.readBody && r.Body != nil && r.Body != http.NoBody {
		body = c.peekBody(r)
	}
	for _, p := range active {
		p.OnRequest(r, body, rec)
	}

	rw := newResponseRecorder(w, c.maxContent)
	defer func() {
		if v := recover(); v != nil {
			rec.StatusCode = http.StatusInternalServerError
			err := fmt.Errorf("%v", v)
			rec.ExceptionMsg = err.Error()
			for _, p := range active {
				p.OnError(err, rec)
			}
			rec.ExecutionTime = c.now().Sub(start).Milliseconds()
			c.store(r.Context(), rec)
			panic(v)
		}
		rec.StatusCode = rw.status()
		for _, p := range active {
			p.OnResponse(rec.StatusCode, rw.Header(), rw.body.Bytes(), rec)
		}
		rec.ExecutionTime = c.now().Sub(start).Milliseconds()
		c.store(r.Context(), rec)
	}()
	next.ServeHTTP(rw, r)
}

// ClientIP returns the first hop of X-Forwarded-For, then Proxy-Client-IP,
// then WL-Proxy-Client-IP, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); usableIP(xff) {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); usableIP(first) {
			return first
		}
	}
	for _, h := range []string{"Proxy-Client-IP", "WL-Proxy-Client-IP"} {
		if v := strings.TrimSpace(r.Header.Get(h)); usableIP(v) {
			return v
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func usableIP(v string) bool {
	return v != "" && !strings.EqualFold(v, "unknown")
}

// responseRecorder passes writes through and keeps the first limit bytes of
// the body.
type responseRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
	body        bytes.Buffer
	limit       int
}

func newResponseRecorder(w http.ResponseWriter, maxContent int) *responseRecorder {
	limit := maxContent + 1
	if maxContent <= 0 {
		limit = -1
	}
	return &responseRecorder{ResponseWriter: w, limit: limit}
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.code = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.code = http.StatusOK
		r.wroteHeader = true
	}
	switch {
	case r.limit < 0:
		r.body.Write(p)
	case r.body.Len() < r.limit:
		room := r.limit - r.body.Len()
		if room > len(p) {
			room = len(p)
		}
		r.body.Write(p[:room])
	}
	return r.ResponseWriter.Write(p)
}

func (r *responseRecorder) status() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.code
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
