package metrics

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
)

var expvarSources sync.Map // name -> *atomic.Pointer[Registry]

// PublishExpvar exposes the registry's snapshot under name in the global
// expvar namespace. expvar names cannot be unpublished, so publishing the
// same name again swaps the registry behind it (tests and restarts reuse
// names).
func PublishExpvar(name string, r *Registry) error {
	v, loaded := expvarSources.LoadOrStore(name, &atomic.Pointer[Registry]{})
	src := v.(*atomic.Pointer[Registry])
	src.Store(r)
	if loaded {
		return nil
	}
	if existing := expvar.Get(name); existing != nil {
		return fmt.Errorf("expvar: %s is already published as %T", name, existing)
	}
	expvar.Publish(name, expvar.Func(func() any {
		if reg := src.Load(); reg != nil {
			return reg.Snapshot()
		}
		return nil
	}))
	return nil
}
