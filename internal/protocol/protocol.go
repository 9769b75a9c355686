package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeReq     = "REQ"
	TypeResp    = "RESP"
)

// Request ops.
const (
	OpNearest    = "nearest"
	OpTagsAround = "tags_around"
	OpFind       = "find"
	OpEdit       = "edit"
	OpImport     = "import"
	OpExport     = "export"
	OpClear      = "clear"
)

var knownOps = map[string]struct{}{
	OpNearest:    {},
	OpTagsAround: {},
	OpFind:       {},
	OpEdit:       {},
	OpImport:     {},
	OpExport:     {},
	OpClear:      {},
}

func IsKnownOp(op string) bool {
	_, ok := knownOps[op]
	return ok
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
