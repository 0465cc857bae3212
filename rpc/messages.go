package rpc

// RoomRequest addresses one room. In every request ClientID is the origin
// of the write; calls with the same ClientID belong to the same client and
// an empty ClientID uses the server's own.
type RoomRequest struct {
	ClientID string `json:"client_id,omitempty"`
	RoomID   string `json:"room_id"`
}

type CreateRequest struct {
	ClientID string   `json:"client_id,omitempty"`
	Deck     []string `json:"deck,omitempty"`
	DeckText string   `json:"deck_text,omitempty"`
}

type ParticipantRequest struct {
	ClientID string `json:"client_id,omitempty"`
	RoomID   string `json:"room_id"`
	Name     string `json:"name"`
}

type CardRequest struct {
	ClientID string `json:"client_id,omitempty"`
	RoomID   string `json:"room_id"`
	Name     string `json:"name"`
	Card     string `json:"card"`
}

type DeckRequest struct {
	ClientID string   `json:"client_id,omitempty"`
	RoomID   string   `json:"room_id"`
	Labels   []string `json:"labels,omitempty"`
	Text     string   `json:"text,omitempty"`
}

type ExportReply struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}
