package store

import (
	"encoding/binary"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableObjects = "objects"
	indexID      = "id"
	indexSeq     = "seq"
)

// indexed is implemented by every *Object stored in the table.
type indexed interface {
	indexKey() string
	indexSeq() uint64
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableObjects: {
			Name: tableObjects,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: objectIndexerByKey{},
				},
				indexSeq: {
					Name:    indexSeq,
					Unique:  true,
					Indexer: objectIndexerBySeq{},
				},
			},
		},
	},
}

type objectIndexerByKey struct{}

func (objectIndexerByKey) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	arg, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	// Add the null character as a terminator
	return []byte(arg + "\x00"), nil
}

func (objectIndexerByKey) FromObject(obj interface{}) (bool, []byte, error) {
	o, ok := obj.(indexed)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, []byte(o.indexKey() + "\x00"), nil
}

// objectIndexerBySeq encodes the creation sequence big-endian so the radix
// tree iterates in creation order.
type objectIndexerBySeq struct{}

func (objectIndexerBySeq) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	seq, ok := args[0].(uint64)
	if !ok {
		return nil, fmt.Errorf("argument must be a uint64: %#v", args[0])
	}
	return encodeSeq(seq), nil
}

func (objectIndexerBySeq) FromObject(obj interface{}) (bool, []byte, error) {
	o, ok := obj.(indexed)
	if !ok {
		panic("unexpected type passed to FromObject")
	}
	return true, encodeSeq(o.indexSeq()), nil
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func newDB() *memdb.MemDB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return db
}
