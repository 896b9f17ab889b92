package capture

import (
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/INLOpen/nexuslog/core"
	"github.com/valyala/fastjson"
)

// Processor customizes how a captured call is turned into a record. The
// middleware calls every processor whose ShouldHandle returns true, in
// registration order.
type Processor interface {
	ShouldHandle(r *http.Request) bool
	// OnRequest runs before the handler. body is the full request body.
	OnRequest(r *http.Request, body []byte, rec *core.CallRecord)
	// OnResponse runs after the handler returned normally. body holds at
	// most the captured prefix of the response.
	OnResponse(status int, header http.Header, body []byte, rec *core.CallRecord)
	// OnError runs when the handler panicked.
	OnError(err error, rec *core.CallRecord)
}

// binaryContentTypes are never copied into a record.
var binaryContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"application/octet-stream",
	"application/pdf",
	"multipart/form-data",
}

// DefaultProcessor records the query string, the request body, the headers
// and the response body, each cut to MaxContentLength.
type DefaultProcessor struct {
	MaxContentLength int
	LogRequestBody   bool
	LogResponseBody  bool
	LogHeaders       bool
}

func (p *DefaultProcessor) ShouldHandle(*http.Request) bool { return true }

func (p *DefaultProcessor) OnRequest(r *http.Request, body []byte, rec *core.CallRecord) {
	if r.URL.RawQuery != "" {
		rec.RequestParams = truncate(r.URL.RawQuery, p.MaxContentLength)
	}
	// A captured body takes the place of the query string.
	if p.LogRequestBody && len(body) > 0 && capturable(r.Header.Get("Content-Type")) {
		rec.RequestParams = truncate(string(body), p.MaxContentLength)
	}
	if p.LogHeaders {
		rec.RequestHeaders = headersJSON(r.Header)
	}
}

func (p *DefaultProcessor) OnResponse(status int, header http.Header, body []byte, rec *core.CallRecord) {
	if p.LogResponseBody && len(body) > 0 && capturable(header.Get("Content-Type")) {
		rec.ResponseBody = truncate(string(body), p.MaxContentLength)
	}
}

func (p *DefaultProcessor) OnError(err error, rec *core.CallRecord) {
	rec.ExceptionMsg = truncate(err.Error(), p.MaxContentLength)
}

func capturable(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, t := range binaryContentTypes {
		if strings.Contains(ct, t) {
			return false
		}
	}
	return true
}

// truncate cuts s to max bytes on a rune boundary and marks the cut with
// "...". A non-positive max disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// headersJSON renders HTTP headers or gRPC metadata as a JSON object with
// sorted keys. Repeated values are joined with ", ".
func headersJSON(h map[string][]string) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var a fastjson.Arena
	obj := a.NewObject()
	for _, k := range keys {
		obj.Set(k, a.NewString(strings.Join(h[k], ", ")))
	}
	return string(obj.MarshalTo(nil))
}
