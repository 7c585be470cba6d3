package protocol

type Message interface {
	Type() MessageType
}

type FileRequest struct {
	Name string
}

func (FileRequest) Type() MessageType { return MsgFileRequest }

type FileResponse struct {
	Data []byte
	Name string
}

func (FileResponse) Type() MessageType { return MsgFileResponse }

// Envelope is the pub/sub chat payload.
type Envelope struct {
	Kind TopicKind
	Text string
}
