package protocol

import (
	"errors"
	"fmt"
)

var ErrInvalidRoomName = errors.New("invalid room name")

// DMTopic derives the direct-message topic shared by two peers. The result is
// the same regardless of argument order.
func DMTopic(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// ClassifyTopic treats topics of at most MaxRoomNameLen bytes as rooms.
// DM topics join two peer ids and are always longer.
func ClassifyTopic(topic string) TopicKind {
	if len(topic) <= MaxRoomNameLen {
		return TopicPublic
	}
	return TopicPrivate
}

func ValidateRoomName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidRoomName)
	}
	if len(name) > MaxRoomNameLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidRoomName, len(name), MaxRoomNameLen)
	}
	return nil
}

func UsernameKey(peerID string) string {
	return "/" + UsernameNamespace + "/" + peerID
}

func RoomsKey() string {
	return "/" + RoomsNamespace + "/" + RoomStoreKey
}
