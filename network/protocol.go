package network

// Client -> server
const (
	MsgTypeHeartbeat    = 1
	MsgTypeJoinRoom     = 101
	MsgTypeLeaveRoom    = 102
	MsgTypeCreateRoom   = 103
	MsgTypeKick         = 104
	MsgTypeSetCard      = 201
	MsgTypeToggleReveal = 202
	MsgTypeReveal       = 203
	MsgTypeHide         = 204
	MsgTypeResetRound   = 205
	MsgTypeUpdateDeck   = 206
	MsgTypeClearCard    = 207
)

// Server -> client
const (
	MsgTypeRoomState = 301
	MsgTypeKicked    = 302
	MsgTypeError     = 400
)

type CreateRoomRequest struct {
	Name string   `json:"name"`
	Deck []string `json:"deck,omitempty"`
}

type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
}

type KickRequest struct {
	Name string `json:"name"`
}

// SetCardRequest selects Card; an empty Card clears the selection.
type SetCardRequest struct {
	Card string `json:"card"`
}

// UpdateDeckRequest carries either explicit labels or comma separated text.
type UpdateDeckRequest struct {
	Labels []string `json:"labels,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type ErrorMessage struct {
	Request uint16 `json:"request"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
