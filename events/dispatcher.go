// Package events implements the in-process Event Dispatcher: a
// single-threaded cooperative publish/subscribe broker with three streams
// (NewUnversionedObject, NewVersion, NewIdObject). Grounded on the
// access-control cache pattern (a mutex-guarded map filled by narrow
// setters) generalized from a single cache to a list of subscribers per
// stream. The Dispatcher carries no ambient state: it is constructed once
// per instance during InitInstance/OpenInstance and threaded explicitly, never reached via a
// package-level global.
package events

import (
	"sync"

	"github.com/refinio/one-core/hashing"
	"github.com/sirupsen/logrus"
)

// NewUnversionedObjectEvent fires after a blob/clob/unversioned-object
// write commits.
type NewUnversionedObjectEvent struct {
	Hash    hashing.Hash
	Type    string
	Payload []byte
}

// NewVersionEvent fires after a versioned record's version map is
// appended.
type NewVersionEvent struct {
	IdHash  hashing.IdHash
	Hash    hashing.Hash
	Type    string
	Payload []byte
}

// NewIdObjectEvent fires the first time an identity's ID-hash is seen.
type NewIdObjectEvent struct {
	IdHash hashing.IdHash
	Type   string
}

type unversionedSub struct {
	tag    string
	filter string // empty = all types
	fn     func(NewUnversionedObjectEvent)
}

type versionSub struct {
	tag    string
	filter string
	fn     func(NewVersionEvent)
}

type idObjectSub struct {
	tag    string
	filter string
	fn     func(NewIdObjectEvent)
}

// Dispatcher is the process-scoped event broker, created by init_instance
// and threaded explicitly rather than reached through a global. Delivery
// is FIFO within a stream and single-threaded: Publish* calls run
// subscribers synchronously on the caller's goroutine, one at a time, so
// fan-out never outruns the stream it is part of.
type Dispatcher struct {
	mu     sync.Mutex
	logger *logrus.Logger

	unversioned []unversionedSub
	versions    []versionSub
	idObjects   []idObjectSub
}

// New constructs a Dispatcher. logger is passed in explicitly rather than
// defaulting to a global singleton.
func New(logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{logger: logger}
}

// SubscribeNewUnversionedObject registers fn under tag, optionally
// restricted to typeFilter (empty means all types).
func (d *Dispatcher) SubscribeNewUnversionedObject(tag, typeFilter string, fn func(NewUnversionedObjectEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unversioned = append(d.unversioned, unversionedSub{tag: tag, filter: typeFilter, fn: fn})
}

// SubscribeNewVersion registers fn under tag, optionally restricted to
// typeFilter.
func (d *Dispatcher) SubscribeNewVersion(tag, typeFilter string, fn func(NewVersionEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versions = append(d.versions, versionSub{tag: tag, filter: typeFilter, fn: fn})
}

// SubscribeNewIdObject registers fn under tag, optionally restricted to
// typeFilter.
func (d *Dispatcher) SubscribeNewIdObject(tag, typeFilter string, fn func(NewIdObjectEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idObjects = append(d.idObjects, idObjectSub{tag: tag, filter: typeFilter, fn: fn})
}

// Unsubscribe removes every subscription registered under tag, across all
// three streams.
func (d *Dispatcher) Unsubscribe(tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unversioned = filterOutTag(d.unversioned, tag)
	d.versions = filterOutVersionTag(d.versions, tag)
	d.idObjects = filterOutIdObjectTag(d.idObjects, tag)
}

// PublishNewUnversionedObject fans out ev to every matching subscriber in
// registration order. A subscriber panic is recovered and logged but does
// not interrupt the remaining subscribers.
func (d *Dispatcher) PublishNewUnversionedObject(ev NewUnversionedObjectEvent) {
	d.mu.Lock()
	subs := append([]unversionedSub(nil), d.unversioned...)
	d.mu.Unlock()
	for _, sub := range subs {
		if sub.filter != "" && sub.filter != ev.Type {
			continue
		}
		d.safeCall(sub.tag, func() { sub.fn(ev) })
	}
}

// PublishNewVersion fans out ev to every matching subscriber.
func (d *Dispatcher) PublishNewVersion(ev NewVersionEvent) {
	d.mu.Lock()
	subs := append([]versionSub(nil), d.versions...)
	d.mu.Unlock()
	for _, sub := range subs {
		if sub.filter != "" && sub.filter != ev.Type {
			continue
		}
		d.safeCall(sub.tag, func() { sub.fn(ev) })
	}
}

// PublishNewIdObject fans out ev to every matching subscriber.
func (d *Dispatcher) PublishNewIdObject(ev NewIdObjectEvent) {
	d.mu.Lock()
	subs := append([]idObjectSub(nil), d.idObjects...)
	d.mu.Unlock()
	for _, sub := range subs {
		if sub.filter != "" && sub.filter != ev.Type {
			continue
		}
		d.safeCall(sub.tag, func() { sub.fn(ev) })
	}
}

func (d *Dispatcher) safeCall(tag string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("events: subscriber %q panicked: %v", tag, r)
		}
	}()
	fn()
}

func filterOutTag(subs []unversionedSub, tag string) []unversionedSub {
	out := subs[:0]
	for _, s := range subs {
		if s.tag != tag {
			out = append(out, s)
		}
	}
	return out
}

func filterOutVersionTag(subs []versionSub, tag string) []versionSub {
	out := subs[:0]
	for _, s := range subs {
		if s.tag != tag {
			out = append(out, s)
		}
	}
	return out
}

func filterOutIdObjectTag(subs []idObjectSub, tag string) []idObjectSub {
	out := subs[:0]
	for _, s := range subs {
		if s.tag != tag {
			out = append(out, s)
		}
	}
	return out
}
