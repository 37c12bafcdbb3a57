package hw

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryAPI is an in-process API backend. It is used by the simulator
// backend and by tests, which can inject failures and count calls.
type MemoryAPI struct {
	mu      sync.Mutex
	objects map[ObjectType]map[ObjectID]Attributes
	nextOID uint64
	faults  []fault
	calls   map[string]int
}

type fault struct {
	op     string
	t      ObjectType
	skip   int
	status string
}

// NewMemoryAPI returns an empty in-memory backend.
func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{
		objects: make(map[ObjectType]map[ObjectID]Attributes),
		calls:   make(map[string]int),
	}
}

// FailNext makes the next call of op ("create", "remove", "set", "get",
// "list") on type t fail with status.
func (m *MemoryAPI) FailNext(op string, t ObjectType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{op: op, t: t, status: status})
}

// FailAfter lets skip calls of op on type t succeed and fails the one after
// with status.
func (m *MemoryAPI) FailAfter(op string, t ObjectType, skip int, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault{op: op, t: t, skip: skip, status: status})
}

// Calls returns how many times op was invoked on type t, including failed
// calls.
func (m *MemoryAPI) Calls(op string, t ObjectType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+"/"+string(t)]
}

// ResetCalls zeroes the call counters.
func (m *MemoryAPI) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// Len returns the number of objects of type t.
func (m *MemoryAPI) Len(t ObjectType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects[t])
}

// Get returns a copy of an object's attributes.
func (m *MemoryAPI) Get(t ObjectType, id ObjectID) (Attributes, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs, ok := m.objects[t][id]
	if !ok {
		return nil, false
	}
	return attrs.Clone(), true
}

// record counts the call and pops a matching injected fault. Caller holds mu.
func (m *MemoryAPI) record(op string, t ObjectType) error {
	m.calls[op+"/"+string(t)]++
	for i := range m.faults {
		f := &m.faults[i]
		if f.op != op || f.t != t {
			continue
		}
		if f.skip > 0 {
			f.skip--
			return nil
		}
		status := f.status
		m.faults = append(m.faults[:i], m.faults[i+1:]...)
		return NewStatusError(status, nil)
	}
	return nil
}

func (m *MemoryAPI) Create(t ObjectType, entry ObjectID, attrs Attributes) (ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("create", t); err != nil {
		return "", err
	}
	id := entry
	if IsEntryType(t) {
		if entry == "" {
			return "", NewStatusError(StatusInvalidParameter, fmt.Errorf("%s requires an entry key", t))
		}
	} else {
		if entry != "" {
			return "", NewStatusError(StatusInvalidParameter, fmt.Errorf("%s is OID-keyed", t))
		}
		m.nextOID++
		id = NewOID(t, m.nextOID)
	}

	table := m.objects[t]
	if table == nil {
		table = make(map[ObjectID]Attributes)
		m.objects[t] = table
	}
	if _, exists := table[id]; exists {
		return "", NewStatusError(StatusItemAlreadyExists, nil)
	}
	table[id] = attrs.Clone()
	return id, nil
}

func (m *MemoryAPI) Remove(t ObjectType, id ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("remove", t); err != nil {
		return err
	}
	if _, ok := m.objects[t][id]; !ok {
		return NewStatusError(StatusItemNotFound, nil)
	}
	delete(m.objects[t], id)
	return nil
}

func (m *MemoryAPI) SetAttribute(t ObjectType, id ObjectID, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("set", t); err != nil {
		return err
	}
	attrs, ok := m.objects[t][id]
	if !ok {
		return NewStatusError(StatusItemNotFound, nil)
	}
	attrs[name] = value
	return nil
}

func (m *MemoryAPI) GetAttribute(t ObjectType, id ObjectID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("get", t); err != nil {
		return "", err
	}
	attrs, ok := m.objects[t][id]
	if !ok {
		return "", NewStatusError(StatusItemNotFound, nil)
	}
	v, ok := attrs[name]
	if !ok {
		return "", NewStatusError(StatusItemNotFound, fmt.Errorf("attribute %s not set", name))
	}
	return v, nil
}

func (m *MemoryAPI) List(t ObjectType) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record("list", t); err != nil {
		return nil, err
	}
	objs := make([]Object, 0, len(m.objects[t]))
	for id, attrs := range m.objects[t] {
		objs = append(objs, Object{Type: t, ID: id, Attributes: attrs.Clone()})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	return objs, nil
}
