package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/wfunc/planningpoker/services"
)

// Client calls planningpoker.Rooms as one client: every write carries its
// ClientID, so a Watch by another client sees it.
type Client struct {
	conn     grpc.ClientConnInterface
	clientID string
}

func NewClient(conn grpc.ClientConnInterface, clientID string) *Client {
	return &Client{conn: conn, clientID: clientID}
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) call(ctx context.Context, method string, in interface{}) (*services.Report, error) {
	out := new(services.Report)
	if err := c.invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, deck []string) (*services.Report, error) {
	return c.call(ctx, "Create", &CreateRequest{ClientID: c.clientID, Deck: deck})
}

func (c *Client) Get(ctx context.Context, roomID string) (*services.Report, error) {
	return c.call(ctx, "Get", &RoomRequest{ClientID: c.clientID, RoomID: roomID})
}

func (c *Client) Join(ctx context.Context, roomID, name string) (*services.Report, error) {
	return c.call(ctx, "Join", &ParticipantRequest{ClientID: c.clientID, RoomID: roomID, Name: name})
}

func (c *Client) Leave(ctx context.Context, roomID, name string) (*services.Report, error) {
	return c.call(ctx, "Leave", &ParticipantRequest{ClientID: c.clientID, RoomID: roomID, Name: name})
}

func (c *Client) Kick(ctx context.Context, roomID, name string) (*services.Report, error) {
	return c.call(ctx, "Kick", &ParticipantRequest{ClientID: c.clientID, RoomID: roomID, Name: name})
}

func (c *Client) SetCard(ctx context.Context, roomID, name, card string) (*services.Report, error) {
	return c.call(ctx, "SetCard", &CardRequest{ClientID: c.clientID, RoomID: roomID, Name: name, Card: card})
}

func (c *Client) Touch(ctx context.Context, roomID, name string) (*services.Report, error) {
	return c.call(ctx, "Touch", &ParticipantRequest{ClientID: c.clientID, RoomID: roomID, Name: name})
}

func (c *Client) Reveal(ctx context.Context, roomID string) (*services.Report, error) {
	return c.call(ctx, "Reveal", &RoomRequest{ClientID: c.clientID, RoomID: roomID})
}

func (c *Client) Hide(ctx context.Context, roomID string) (*services.Report, error) {
	return c.call(ctx, "Hide", &RoomRequest{ClientID: c.clientID, RoomID: roomID})
}

func (c *Client) ToggleReveal(ctx context.Context, roomID string) (*services.Report, error) {
	return c.call(ctx, "ToggleReveal", &RoomRequest{ClientID: c.clientID, RoomID: roomID})
}

func (c *Client) ResetRound(ctx context.Context, roomID string) (*services.Report, error) {
	return c.call(ctx, "ResetRound", &RoomRequest{ClientID: c.clientID, RoomID: roomID})
}

func (c *Client) UpdateDeck(ctx context.Context, roomID string, labels []string) (*services.Report, error) {
	return c.call(ctx, "UpdateDeck", &DeckRequest{ClientID: c.clientID, RoomID: roomID, Labels: labels})
}

func (c *Client) Export(ctx context.Context, roomID string) (*ExportReply, error) {
	out := new(ExportReply)
	if err := c.invoke(ctx, "Export", &RoomRequest{ClientID: c.clientID, RoomID: roomID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchStream receives room reports pushed by the server.
type WatchStream struct {
	stream grpc.ClientStream
}

func (w *WatchStream) Recv() (*services.Report, error) {
	out := new(services.Report)
	if err := w.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch subscribes to roomID. Cancel ctx to stop.
func (c *Client) Watch(ctx context.Context, roomID string) (*WatchStream, error) {
	stream, err := c.conn.NewStream(ctx, &RoomsServiceDesc.Streams[0], fullMethod("Watch"), grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&RoomRequest{ClientID: c.clientID, RoomID: roomID}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}
