package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	record "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrSerialization = errors.New("record serialization failed")
	ErrUnknownRecord = errors.New("unknown record kind")
)

// Record is the value stored in the directory. Kind selects which of
// Username and Rooms is meaningful.
type Record struct {
	Kind     RecordKind `cbor:"1,keyasint"`
	Username string     `cbor:"2,keyasint,omitempty"`
	Rooms    []string   `cbor:"3,keyasint,omitempty"`
	Version  uint64     `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
}

func NewUsernameRecord(name string, version uint64) Record {
	return Record{Kind: RecordUsername, Username: name, Version: version}
}

func NewRoomListRecord(rooms []string, version uint64) Record {
	return Record{Kind: RecordRoomList, Rooms: rooms, Version: version}
}

func EncodeRecord(rec Record) ([]byte, error) {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

func DecodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	switch rec.Kind {
	case RecordUsername, RecordRoomList:
		return rec, nil
	default:
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownRecord, rec.Kind)
	}
}

// MergeRooms returns base followed by every room of extra not already in
// base. Order of first appearance is kept.
func MergeRooms(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, room := range list {
			if _, ok := seen[room]; ok {
				continue
			}
			seen[room] = struct{}{}
			merged = append(merged, room)
		}
	}
	return merged
}

// RecordValidator checks directory values for a single namespace.
// Observe, when set, is called with every value that passes validation.
type RecordValidator struct {
	Kind    RecordKind
	Observe func(key string, rec Record)
}

var _ record.Validator = RecordValidator{}

func (v RecordValidator) Validate(key string, value []byte) error {
	ns, path, err := record.SplitKey(key)
	if err != nil {
		return err
	}

	rec, err := DecodeRecord(value)
	if err != nil {
		return err
	}
	if rec.Kind != v.Kind {
		return fmt.Errorf("%w: %s record under %q", ErrUnknownRecord, rec.Kind, ns)
	}

	switch rec.Kind {
	case RecordUsername:
		if _, err := peer.Decode(path); err != nil {
			return fmt.Errorf("username key %q: %w", path, err)
		}
		if rec.Username == "" {
			return fmt.Errorf("%w: empty username", ErrSerialization)
		}
	case RecordRoomList:
		if path != RoomStoreKey {
			return fmt.Errorf("room list stored under %q", path)
		}
		for _, room := range rec.Rooms {
			if err := ValidateRoomName(room); err != nil {
				return err
			}
		}
	}

	if v.Observe != nil {
		v.Observe(key, rec)
	}
	return nil
}

// Select prefers the highest version, then the larger room list, then the
// larger encoding. Invalid values never win.
func (v RecordValidator) Select(key string, values [][]byte) (int, error) {
	best := -1
	var bestRec Record
	for i, value := range values {
		rec, err := DecodeRecord(value)
		if err != nil || rec.Kind != v.Kind {
			continue
		}
		if best < 0 || better(rec, value, bestRec, values[best]) {
			best = i
			bestRec = rec
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("%w: no valid value for %s", ErrSerialization, key)
	}
	return best, nil
}

func better(a Record, aRaw []byte, b Record, bRaw []byte) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	if len(a.Rooms) != len(b.Rooms) {
		return len(a.Rooms) > len(b.Rooms)
	}
	return bytes.Compare(aRaw, bRaw) > 0
}
