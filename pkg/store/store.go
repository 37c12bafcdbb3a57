// Package store keeps one registry of hardware objects per object type.
//
// SetObject is idempotent: the first call for a key programs the object,
// later calls share it and update differing attributes in place. Each call
// takes an owning reference, released with Object.Release; the hardware
// object is removed when the last reference goes. Objects created with
// resolve set are published so dependent entries can realize.
package store

import (
	"errors"
	"fmt"
	"sync"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/newtron-network/hwagent/pkg/hw"
	"github.com/newtron-network/hwagent/pkg/metrics"
	"github.com/newtron-network/hwagent/pkg/publisher"
	"github.com/newtron-network/hwagent/pkg/util"
)

// Traits describes how keys and attributes of one object type map onto the
// hardware API. K and A must be comparable values; attribute equality
// decides whether SetObject touches hardware.
type Traits[K comparable, A comparable] interface {
	ObjectType() hw.ObjectType
	// EntryID returns the hardware ID of an entry-keyed object, or "" for
	// OID-keyed types.
	EntryID(key K) hw.ObjectID
	// PublisherKey is the stable string form of key used for lookups and
	// dependency subscriptions.
	PublisherKey(key K) string
	Encode(key K, attrs A) hw.Attributes
	// Decode rebuilds key and attributes from an enumerated object.
	Decode(obj hw.Object) (K, A, error)
}

// Object is a handle to one stored hardware object.
type Object[K comparable, A comparable] struct {
	store  *ObjectStore[K, A]
	key    K
	pubKey string
	id     hw.ObjectID
	seq    uint64

	// guarded by store.mu
	attrs     A
	refs      int
	claimed   bool
	published bool
}

func (o *Object[K, A]) indexKey() string { return o.pubKey }
func (o *Object[K, A]) indexSeq() uint64 { return o.seq }

// Key returns the object's key.
func (o *Object[K, A]) Key() K { return o.key }

// ID returns the hardware ID.
func (o *Object[K, A]) ID() hw.ObjectID { return o.id }

// PublisherKey returns the key used in publisher events.
func (o *Object[K, A]) PublisherKey() string { return o.pubKey }

// Attributes returns the attributes last programmed.
func (o *Object[K, A]) Attributes() A {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return o.attrs
}

// Resolved reports whether the object has been published to dependents.
func (o *Object[K, A]) Resolved() bool {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return o.published
}

// Refs returns the number of owning references.
func (o *Object[K, A]) Refs() int {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return o.refs
}

// Update reprograms the attributes of a held object in place.
func (o *Object[K, A]) Update(attrs A) error {
	o.store.mu.Lock()
	defer o.store.mu.Unlock()
	return o.store.update(o, attrs)
}

// Release drops one owning reference. Dropping the last one publishes the
// removal, so dependents tear down first, and then removes the object from
// hardware.
func (o *Object[K, A]) Release() error {
	return o.store.release(o)
}

// ObjectStore is the registry for one object type.
type ObjectStore[K comparable, A comparable] struct {
	mu     sync.Mutex
	api    hw.API
	pub    *publisher.Publisher
	traits Traits[K, A]
	db     *memdb.MemDB
	seq    uint64
}

// New creates an empty store.
func New[K comparable, A comparable](api hw.API, pub *publisher.Publisher, traits Traits[K, A]) *ObjectStore[K, A] {
	return &ObjectStore[K, A]{
		api:    api,
		pub:    pub,
		traits: traits,
		db:     newDB(),
	}
}

// Type returns the object type held by the store.
func (s *ObjectStore[K, A]) Type() hw.ObjectType {
	return s.traits.ObjectType()
}

// SetObject returns an owning handle for key, creating the object if needed
// and otherwise bringing its attributes in line with attrs. When resolve is
// set and the object was not yet published, a Created event is published
// after the store lock is released; errors returned by dependents are
// returned along with the valid handle.
func (s *ObjectStore[K, A]) SetObject(key K, attrs A, resolve bool) (*Object[K, A], error) {
	t := s.traits.ObjectType()
	pubKey := s.traits.PublisherKey(key)
	log := util.WithObject(string(t), pubKey)

	s.mu.Lock()
	obj := s.lookup(pubKey)
	if obj == nil {
		id, err := s.api.Create(t, s.traits.EntryID(key), s.traits.Encode(key, attrs))
		observe("create", t, err)
		if err != nil {
			s.mu.Unlock()
			return nil, util.NewHardwareCallError("create", string(t), pubKey, err)
		}
		s.seq++
		obj = &Object[K, A]{
			store:   s,
			key:     key,
			pubKey:  pubKey,
			id:      id,
			seq:     s.seq,
			attrs:   attrs,
			refs:    1,
			claimed: true,
		}
		s.insert(obj)
		log.Debugf("created %s", id)
	} else {
		if err := s.update(obj, attrs); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if obj.claimed {
			obj.refs++
		} else {
			obj.claimed = true
			obj.refs = 1
			log.Debugf("adopted %s", obj.id)
		}
	}
	notify := resolve && !obj.published
	if notify {
		obj.published = true
	}
	s.updateGauge()
	s.mu.Unlock()

	if notify {
		if err := s.pub.Publish(publisher.Created, t, pubKey, obj); err != nil {
			return obj, err
		}
	}
	return obj, nil
}

// update programs the attributes that differ. On failure the attributes
// already written are restored. Caller holds mu.
func (s *ObjectStore[K, A]) update(obj *Object[K, A], attrs A) error {
	if obj.attrs == attrs {
		return nil
	}
	t := s.traits.ObjectType()
	old := s.traits.Encode(obj.key, obj.attrs)
	changed := old.Diff(s.traits.Encode(obj.key, attrs))

	var written []string
	for _, name := range changed.Names() {
		err := s.api.SetAttribute(t, obj.id, name, changed[name])
		observe("set", t, err)
		if err != nil {
			errs := []error{util.NewHardwareCallError("set "+name, string(t), obj.pubKey, err)}
			for _, done := range written {
				if prev, ok := old[done]; ok {
					rerr := s.api.SetAttribute(t, obj.id, done, prev)
					observe("set", t, rerr)
					if rerr != nil {
						util.WithObject(string(t), obj.pubKey).WithError(rerr).Errorf("restoring %s", done)
						errs = append(errs, fmt.Errorf("restoring %s: %w", done, rerr))
					}
				}
			}
			return errors.Join(errs...)
		}
		written = append(written, name)
	}
	obj.attrs = attrs
	util.WithObject(string(t), obj.pubKey).Debugf("updated %d attributes in place", len(changed))
	return nil
}

func (s *ObjectStore[K, A]) release(o *Object[K, A]) error {
	t := s.traits.ObjectType()

	s.mu.Lock()
	if o.refs <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s %s released without an owner", util.ErrNotFound, t, o.pubKey)
	}
	o.refs--
	if o.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	wasPublished := o.published
	o.published = false
	s.mu.Unlock()

	var errs []error
	if wasPublished {
		if err := s.pub.Publish(publisher.Removed, t, o.pubKey, o); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o.refs > 0 {
		// taken again by a dependent while the removal was delivered
		return errors.Join(errs...)
	}
	if err := s.removeLocked(o); err != nil {
		errs = append(errs, err)
	}
	s.updateGauge()
	return errors.Join(errs...)
}

// removeLocked deletes the object from hardware and bookkeeping. If the
// hardware call fails the object stays registered, unclaimed, so a later
// SetObject adopts it or ReleaseUnclaimed retries. Caller holds mu.
func (s *ObjectStore[K, A]) removeLocked(o *Object[K, A]) error {
	t := s.traits.ObjectType()
	err := s.api.Remove(t, o.id)
	observe("remove", t, err)
	if err != nil {
		o.claimed = false
		return util.NewHardwareCallError("remove", string(t), o.pubKey, err)
	}
	txn := s.db.Txn(true)
	if err := txn.Delete(tableObjects, o); err != nil {
		txn.Abort()
		return fmt.Errorf("store bookkeeping: %w", err)
	}
	txn.Commit()
	util.WithObject(string(t), o.pubKey).Debugf("removed %s", o.id)
	return nil
}

// Get returns the claimed object for key, or nil.
func (s *ObjectStore[K, A]) Get(key K) *Object[K, A] {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.lookup(s.traits.PublisherKey(key))
	if obj == nil || !obj.claimed {
		return nil
	}
	return obj
}

// List returns the claimed objects in creation order.
func (s *ObjectStore[K, A]) List() []*Object[K, A] {
	return s.collect(func(o *Object[K, A]) bool { return o.claimed })
}

// Unclaimed returns the reloaded objects no owner has adopted yet.
func (s *ObjectStore[K, A]) Unclaimed() []*Object[K, A] {
	return s.collect(func(o *Object[K, A]) bool { return !o.claimed })
}

// Len returns the number of claimed objects.
func (s *ObjectStore[K, A]) Len() int {
	return len(s.List())
}

func (s *ObjectStore[K, A]) collect(match func(*Object[K, A]) bool) []*Object[K, A] {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Object[K, A]
	for _, o := range s.all() {
		if match(o) {
			out = append(out, o)
		}
	}
	return out
}

// Reload registers the objects the hardware API already holds as
// unclaimed. Objects that cannot be decoded are left alone. Returns the
// number of objects registered.
func (s *ObjectStore[K, A]) Reload() (int, error) {
	t := s.traits.ObjectType()
	objs, err := s.api.List(t)
	observe("list", t, err)
	if err != nil {
		return 0, util.NewHardwareCallError("list", string(t), "*", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ho := range objs {
		key, attrs, err := s.traits.Decode(ho)
		if err != nil {
			util.WithObject(string(t), string(ho.ID)).Warnf("skipping undecodable object: %v", err)
			continue
		}
		pubKey := s.traits.PublisherKey(key)
		if s.lookup(pubKey) != nil {
			continue
		}
		s.seq++
		s.insert(&Object[K, A]{
			store:  s,
			key:    key,
			pubKey: pubKey,
			id:     ho.ID,
			seq:    s.seq,
			attrs:  attrs,
		})
		n++
	}
	s.updateGauge()
	util.WithField("object_type", t.Short()).Infof("reloaded %d objects", n)
	return n, nil
}

// ReleaseUnclaimed removes every reloaded object that was not adopted.
// Returns the number removed.
func (s *ObjectStore[K, A]) ReleaseUnclaimed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	n := 0
	for _, o := range s.all() {
		if o.claimed {
			continue
		}
		if err := s.removeLocked(o); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	s.updateGauge()
	return n, errors.Join(errs...)
}

// lookup returns the registered object for a publisher key, claimed or not.
// Caller holds mu.
func (s *ObjectStore[K, A]) lookup(pubKey string) *Object[K, A] {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableObjects, indexID, pubKey)
	if err != nil || raw == nil {
		return nil
	}
	return raw.(*Object[K, A])
}

// all returns every registered object in creation order. Caller holds mu.
func (s *ObjectStore[K, A]) all() []*Object[K, A] {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.LowerBound(tableObjects, indexSeq, uint64(0))
	if err != nil {
		return nil
	}
	var out []*Object[K, A]
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*Object[K, A]))
	}
	return out
}

// insert registers obj. Caller holds mu.
func (s *ObjectStore[K, A]) insert(obj *Object[K, A]) {
	txn := s.db.Txn(true)
	if err := txn.Insert(tableObjects, obj); err != nil {
		txn.Abort()
		util.Panicf("store bookkeeping for %s %s: %v", s.traits.ObjectType(), obj.pubKey, err)
	}
	txn.Commit()
}

// updateGauge refreshes the object count metric. Caller holds mu.
func (s *ObjectStore[K, A]) updateGauge() {
	n := len(s.all())
	metrics.StoreObjects.WithLabelValues(s.traits.ObjectType().Short()).Set(float64(n))
}

func observe(op string, t hw.ObjectType, err error) {
	metrics.HardwareCalls.WithLabelValues(op, t.Short(), metrics.Outcome(err)).Inc()
}
