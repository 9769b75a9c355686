package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerID        string     `json:"player_id"`
	ClientName      string     `json:"client_name,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	PlayerID        string      `json:"player_id"`
	Day             int         `json:"day"`
	Params          PlaceParams `json:"params"`
}

type PlaceParams struct {
	GridResolution int     `json:"grid_resolution"`
	GridOffset     int     `json:"grid_offset"`
	DefaultRadius  float64 `json:"default_radius"`
	MaxRadius      float64 `json:"max_radius"`
	MaxTextLen     int     `json:"max_text_len,omitempty"`
	MaxImport      int     `json:"max_import,omitempty"`
}

// REQ (client -> server). Which fields apply depends on Op.
type ReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Op              string `json:"op"`

	Text   string      `json:"text,omitempty"`
	Pos    *[3]float64 `json:"pos,omitempty"`
	Radius float64     `json:"radius,omitempty"`

	// edit
	AllowRemove bool `json:"allow_remove,omitempty"`
	AllowChange bool `json:"allow_change,omitempty"`
	AllowAdd    bool `json:"allow_add,omitempty"`

	// import
	Action string     `json:"action,omitempty"`
	Places []PlaceObj `json:"places,omitempty"`
}

// RESP (server -> client)
type RespMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Day             int    `json:"day,omitempty"`

	Counts   *CountsObj `json:"counts,omitempty"`
	Place    *PlaceObj  `json:"place,omitempty"`
	Distance float64    `json:"distance,omitempty"`
	Places   []PlaceObj `json:"places,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

type PlaceObj struct {
	Pos  [3]float64 `json:"pos"`
	Tags []TagObj   `json:"tags"`
}

type TagObj struct {
	Name     string `json:"name"`
	StartDay int    `json:"start_day,omitempty"`
	EndDay   int    `json:"end_day,omitempty"`
}

type CountsObj struct {
	Added   int `json:"added"`
	Changed int `json:"changed"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped,omitempty"`
	Dropped int `json:"dropped,omitempty"`
}
