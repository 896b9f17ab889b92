package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/INLOpen/nexuslog/hooks"
	"github.com/valyala/fastjson"
)

// DefaultMask replaces redacted values.
const DefaultMask = "******"

// RedactionListener masks sensitive request headers and parameters before a
// record is stored. Headers are expected as a JSON object; parameters as a
// URL-encoded query string. Values in any other shape are left untouched.
type RedactionListener struct {
	logger  *slog.Logger
	headers map[string]struct{}
	params  map[string]struct{}
	mask    string

	parsers fastjson.ParserPool
	arenas  fastjson.ArenaPool
}

// NewRedactionListener matches header and parameter names case-insensitively.
func NewRedactionListener(logger *slog.Logger, headers, params []string) *RedactionListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedactionListener{
		logger:  logger.With("component", "RedactionListener"),
		headers: lowerSet(headers),
		params:  lowerSet(params),
		mask:    DefaultMask,
	}
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[strings.ToLower(n)] = struct{}{}
		}
	}
	return set
}

func (l *RedactionListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPreStore {
		return nil
	}
	payload, ok := event.Payload().(hooks.PreStorePayload)
	if !ok || payload.Record == nil {
		l.logger.Error("Received PreStore event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	rec := payload.Record
	if len(l.headers) > 0 && rec.RequestHeaders != "" {
		rec.RequestHeaders = l.redactJSON(rec.RequestHeaders, l.headers)
	}
	if len(l.params) > 0 && rec.RequestParams != "" {
		rec.RequestParams = l.redactParams(rec.RequestParams)
	}
	// Redaction never vetoes a record.
	return nil
}

func (l *RedactionListener) redactJSON(s string, names map[string]struct{}) string {
	p := l.parsers.Get()
	defer l.parsers.Put(p)
	v, err := p.Parse(s)
	if err != nil {
		return s
	}
	obj, err := v.Object()
	if err != nil {
		return s
	}

	a := l.arenas.Get()
	defer l.arenas.Put(a)
	var hit []string
	obj.Visit(func(key []byte, _ *fastjson.Value) {
		if _, ok := names[strings.ToLower(string(key))]; ok {
			hit = append(hit, string(key))
		}
	})
	if len(hit) == 0 {
		return s
	}
	for _, k := range hit {
		obj.Set(k, a.NewString(l.mask))
	}
	return string(v.MarshalTo(nil))
}

func (l *RedactionListener) redactParams(s string) string {
	// JSON bodies are captured verbatim as params for POST requests.
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		return l.redactJSON(s, l.params)
	}
	values, err := url.ParseQuery(s)
	if err != nil {
		return s
	}
	changed := false
	for k, vs := range values {
		if _, ok := l.params[strings.ToLower(k)]; ok {
			for i := range vs {
				vs[i] = l.mask
			}
			changed = true
		}
	}
	if !changed {
		return s
	}
	return values.Encode()
}

// Priority runs redaction ahead of other PreStore listeners so they only see
// masked values.
func (l *RedactionListener) Priority() int { return 0 }

func (l *RedactionListener) IsAsync() bool { return false }
