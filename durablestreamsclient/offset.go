package durablestreamsclient

// Offset is an opaque, lexicographically sortable position token. Clients
// never parse it — only store and echo it back in the offset query
// parameter.
type Offset string

// StartOffset reads from the beginning of a stream.
const StartOffset Offset = "-1"

func (o Offset) String() string {
	return string(o)
}

func (o Offset) IsStart() bool {
	return o == StartOffset || o == ""
}
