package hooks

import (
	"time"

	"github.com/INLOpen/nexuslog/core"
)

// EventType names a hook event.
type EventType string

const (
	// Write path
	EventPreStore          EventType = "PreStore"
	EventPostFlush         EventType = "PostFlush"
	EventPostSegmentCreate EventType = "PostSegmentCreate"
	EventPostSegmentClose  EventType = "PostSegmentClose"
	EventOnCacheOverflow   EventType = "OnCacheOverflow"
	EventOnWriteError      EventType = "OnWriteError"

	// Engine lifecycle
	EventPreStartEngine  EventType = "PreStartEngine"
	EventPostStartEngine EventType = "PostStartEngine"
	EventPreCloseEngine  EventType = "PreCloseEngine"
	EventPostCloseEngine EventType = "PostCloseEngine"

	// Query
	EventPreQuery  EventType = "PreQuery"
	EventPostQuery EventType = "PostQuery"
)

// HookEvent is an event with its payload.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent is the HookEvent used for every event type.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreStorePayload carries the record about to be enqueued. Listeners may
// modify it in place.
type PreStorePayload struct {
	Record *core.CallRecord
}

func NewPreStoreEvent(payload PreStorePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStore, payload: payload}
}

// PostFlushPayload describes one batch flush.
type PostFlushPayload struct {
	Records  int
	Failed   int
	Bytes    int64
	Duration time.Duration
	Segment  string
	Error    error
}

func NewPostFlushEvent(payload PostFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPostFlush, payload: payload}
}

// SegmentPayload identifies a segment pair.
type SegmentPayload struct {
	Name      string
	DataPath  string
	IndexPath string
	DataSize  int64
	IndexSize int64
}

func NewPostSegmentCreateEvent(payload SegmentPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSegmentCreate, payload: payload}
}

func NewPostSegmentCloseEvent(payload SegmentPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSegmentClose, payload: payload}
}

// CacheOverflowPayload is sent when the pending batch passes twice the
// flush threshold.
type CacheOverflowPayload struct {
	BatchSize int
	Threshold int
}

func NewOnCacheOverflowEvent(payload CacheOverflowPayload) HookEvent {
	return &BaseEvent{eventType: EventOnCacheOverflow, payload: payload}
}

// WriteErrorPayload describes a record or segment that could not be written.
// RecordID is empty for segment level failures.
type WriteErrorPayload struct {
	RecordID string
	Op       string
	Error    error
}

func NewOnWriteErrorEvent(payload WriteErrorPayload) HookEvent {
	return &BaseEvent{eventType: EventOnWriteError, payload: payload}
}

type EngineLifecyclePayload struct {
	BaseDir string
}

func NewPreStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStartEngine, payload: payload}
}

func NewPostStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStartEngine, payload: payload}
}

func NewPreCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCloseEngine, payload: payload}
}

func NewPostCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseEngine, payload: payload}
}

// PreQueryPayload holds the query window in unix milliseconds. Listeners may
// narrow it.
type PreQueryPayload struct {
	StartMs *int64
	EndMs   *int64
}

func NewPreQueryEvent(payload PreQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPreQuery, payload: payload}
}

type PostQueryPayload struct {
	StartMs     int64
	EndMs       int64
	Matches     int
	FailedFiles int
	Duration    time.Duration
	Error       error
}

func NewPostQueryEvent(payload PostQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPostQuery, payload: payload}
}
