// Package hw defines the hardware abstraction API the agent programs
// against. Objects are addressed the way SONiC's ASIC_DB addresses them: an
// object type plus either an allocated OID ("oid:0x...") or, for entry-keyed
// objects such as neighbors and FDB entries, the serialized entry key.
package hw

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// ObjectType is a SAI object type name.
type ObjectType string

const (
	ObjectTypeSwitch          ObjectType = "SAI_OBJECT_TYPE_SWITCH"
	ObjectTypeRouterInterface ObjectType = "SAI_OBJECT_TYPE_ROUTER_INTERFACE"
	ObjectTypeFdbEntry        ObjectType = "SAI_OBJECT_TYPE_FDB_ENTRY"
	ObjectTypeNeighborEntry   ObjectType = "SAI_OBJECT_TYPE_NEIGHBOR_ENTRY"
	ObjectTypeNextHop         ObjectType = "SAI_OBJECT_TYPE_NEXT_HOP"
)

// ObjectTypes lists the types the agent manages, dependencies first.
var ObjectTypes = []ObjectType{
	ObjectTypeRouterInterface,
	ObjectTypeFdbEntry,
	ObjectTypeNeighborEntry,
	ObjectTypeNextHop,
}

var shortNames = map[ObjectType]string{
	ObjectTypeSwitch:          "switch",
	ObjectTypeRouterInterface: "rif",
	ObjectTypeFdbEntry:        "fdb",
	ObjectTypeNeighborEntry:   "neighbor",
	ObjectTypeNextHop:         "nexthop",
}

// Short returns the short name used in logs, metrics labels and CLI flags.
func (t ObjectType) Short() string {
	if s, ok := shortNames[t]; ok {
		return s
	}
	return strings.ToLower(strings.TrimPrefix(string(t), "SAI_OBJECT_TYPE_"))
}

// ParseObjectType accepts either a short name ("neighbor") or a full SAI
// object type name.
func ParseObjectType(s string) (ObjectType, error) {
	for t, short := range shortNames {
		if s == short || s == string(t) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown object type %q", s)
}

// ObjectID identifies one object of a type: an OID or a serialized entry key.
type ObjectID string

// Attributes maps SAI attribute names to their serialized values.
type Attributes map[string]string

// Clone returns a copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Diff returns the attributes in b whose value differs from, or is missing
// in, a. Attributes present only in a are not reported; SAI has no generic
// attribute removal.
func (a Attributes) Diff(b Attributes) Attributes {
	changed := Attributes{}
	for k, v := range b {
		if old, ok := a[k]; !ok || old != v {
			changed[k] = v
		}
	}
	return changed
}

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Object is one hardware object as enumerated by List.
type Object struct {
	Type       ObjectType
	ID         ObjectID
	Attributes Attributes
}

// API is the hardware programming interface. Calls are synchronous and not
// cancellable; a failure carries the SDK status as a *StatusError.
type API interface {
	// Create programs a new object. For entry-keyed types entry is the
	// serialized key and is returned unchanged; for OID types entry must be
	// empty and a new OID is allocated.
	Create(t ObjectType, entry ObjectID, attrs Attributes) (ObjectID, error)
	Remove(t ObjectType, id ObjectID) error
	SetAttribute(t ObjectType, id ObjectID, name, value string) error
	GetAttribute(t ObjectType, id ObjectID, name string) (string, error)
	// List enumerates every object of a type, sorted by ID.
	List(t ObjectType) ([]Object, error)
}

// SAI status strings returned by backends.
const (
	StatusFailure               = "SAI_STATUS_FAILURE"
	StatusItemAlreadyExists     = "SAI_STATUS_ITEM_ALREADY_EXISTS"
	StatusItemNotFound          = "SAI_STATUS_ITEM_NOT_FOUND"
	StatusInvalidParameter      = "SAI_STATUS_INVALID_PARAMETER"
	StatusTableFull             = "SAI_STATUS_TABLE_FULL"
	StatusInsufficientResources = "SAI_STATUS_INSUFFICIENT_RESOURCES"
)

// StatusError is a failed hardware call with its SDK status.
type StatusError struct {
	Status string
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Status, e.Err)
	}
	return e.Status
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError creates a status error
func NewStatusError(status string, err error) *StatusError {
	return &StatusError{Status: status, Err: err}
}

// Status returns the SDK status carried by err, or "" if err carries none.
func Status(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return ""
}

// saiTypeIDs holds the numeric SAI object type encoded in the top bits of
// an OID.
var saiTypeIDs = map[ObjectType]uint64{
	ObjectTypeNextHop:         0x04,
	ObjectTypeRouterInterface: 0x06,
	ObjectTypeSwitch:          0x21,
}

// IsEntryType reports whether objects of t are keyed by a serialized entry
// rather than an allocated OID.
func IsEntryType(t ObjectType) bool {
	_, oid := saiTypeIDs[t]
	return !oid
}

// NewOID formats the OID for the index'th object of an OID-keyed type.
func NewOID(t ObjectType, index uint64) ObjectID {
	return ObjectID(fmt.Sprintf("oid:0x%x", saiTypeIDs[t]<<48|index))
}
