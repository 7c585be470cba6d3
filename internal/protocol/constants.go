package protocol

const (
	FileExchangeProtocol = "/file-exchange/1"
	DHTProtocolPrefix    = "/swapbytes"

	MaxRoomNameLen = 64
	MaxFrameSize   = 64 * 1024 * 1024

	RoomStoreKey      = "room_store"
	UsernameNamespace = "username"
	RoomsNamespace    = "rooms"

	ReceivedFilePrefix = "new_"
)

type MessageType uint16

const (
	MsgFileRequest  MessageType = 0x0010
	MsgFileResponse MessageType = 0x0011
)

func (t MessageType) String() string {
	switch t {
	case MsgFileRequest:
		return "FILE_REQUEST"
	case MsgFileResponse:
		return "FILE_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// TopicKind says whether a pub/sub topic is a room or a direct-message channel.
type TopicKind uint8

const (
	TopicPublic  TopicKind = 1
	TopicPrivate TopicKind = 2
)

func (k TopicKind) String() string {
	switch k {
	case TopicPublic:
		return "public"
	case TopicPrivate:
		return "private"
	default:
		return "unknown"
	}
}

type RecordKind uint8

const (
	RecordUsername RecordKind = 1
	RecordRoomList RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case RecordUsername:
		return "username"
	case RecordRoomList:
		return "room_list"
	default:
		return "unknown"
	}
}

// DefaultRooms are joined by every node at startup.
var DefaultRooms = []string{"Global", "Engineering", "Sciences", "Arts"}
