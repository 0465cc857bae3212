package rpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wfunc/planningpoker/broadcast"
	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/room"
	"github.com/wfunc/planningpoker/services"
)

const ServiceName = "planningpoker.Rooms"

// RoomsServer is the server API of planningpoker.Rooms.
type RoomsServer interface {
	Create(context.Context, *CreateRequest) (*services.Report, error)
	Get(context.Context, *RoomRequest) (*services.Report, error)
	Join(context.Context, *ParticipantRequest) (*services.Report, error)
	Leave(context.Context, *ParticipantRequest) (*services.Report, error)
	Kick(context.Context, *ParticipantRequest) (*services.Report, error)
	SetCard(context.Context, *CardRequest) (*services.Report, error)
	Touch(context.Context, *ParticipantRequest) (*services.Report, error)
	Reveal(context.Context, *RoomRequest) (*services.Report, error)
	Hide(context.Context, *RoomRequest) (*services.Report, error)
	ToggleReveal(context.Context, *RoomRequest) (*services.Report, error)
	ResetRound(context.Context, *RoomRequest) (*services.Report, error)
	UpdateDeck(context.Context, *DeckRequest) (*services.Report, error)
	Export(context.Context, *RoomRequest) (*ExportReply, error)
	Watch(*RoomRequest, grpc.ServerStream) error
}

// Subscriber is the read side of the change feed.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID, origin string, fn broadcast.Handler) (func(), error)
}

// RoomService implements RoomsServer on top of the room engine.
type RoomService struct {
	engine   *room.Engine
	notifier Subscriber
	attempts int
}

func NewRoomService(engine *room.Engine, notifier Subscriber, createAttempts int) *RoomService {
	if createAttempts < 1 {
		createAttempts = 1
	}
	return &RoomService{
		engine:   engine.WithOrigin("rpc-" + uuid.New().String()),
		notifier: notifier,
		attempts: createAttempts,
	}
}

func (s *RoomService) client(id string) *room.Engine {
	if id == "" {
		return s.engine
	}
	return s.engine.WithOrigin(id)
}

func (s *RoomService) Create(ctx context.Context, req *CreateRequest) (*services.Report, error) {
	deck := req.Deck
	if len(deck) == 0 && req.DeckText != "" {
		deck = models.ParseDeck(req.DeckText)
	}
	return report(room.CreateWithRetry(ctx, s.client(req.ClientID), deck, s.attempts))
}

func (s *RoomService) Get(ctx context.Context, req *RoomRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).Get(ctx, req.RoomID))
}

func (s *RoomService) Join(ctx context.Context, req *ParticipantRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).JoinRoom(ctx, req.RoomID, req.Name))
}

func (s *RoomService) Leave(ctx context.Context, req *ParticipantRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).LeaveRoom(ctx, req.RoomID, req.Name))
}

func (s *RoomService) Kick(ctx context.Context, req *ParticipantRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).KickParticipant(ctx, req.RoomID, req.Name))
}

func (s *RoomService) SetCard(ctx context.Context, req *CardRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).SetCard(ctx, req.RoomID, req.Name, req.Card))
}

func (s *RoomService) Touch(ctx context.Context, req *ParticipantRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).Touch(ctx, req.RoomID, req.Name))
}

func (s *RoomService) Reveal(ctx context.Context, req *RoomRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).Reveal(ctx, req.RoomID))
}

func (s *RoomService) Hide(ctx context.Context, req *RoomRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).Hide(ctx, req.RoomID))
}

func (s *RoomService) ToggleReveal(ctx context.Context, req *RoomRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).ToggleReveal(ctx, req.RoomID))
}

func (s *RoomService) ResetRound(ctx context.Context, req *RoomRequest) (*services.Report, error) {
	return report(s.client(req.ClientID).ResetRound(ctx, req.RoomID))
}

func (s *RoomService) UpdateDeck(ctx context.Context, req *DeckRequest) (*services.Report, error) {
	labels := req.Labels
	if len(labels) == 0 {
		labels = models.ParseDeck(req.Text)
	}
	return report(s.client(req.ClientID).UpdateDeck(ctx, req.RoomID, labels))
}

func (s *RoomService) Export(ctx context.Context, req *RoomRequest) (*ExportReply, error) {
	filename, data, err := services.NewReportService(s.client(req.ClientID)).Export(ctx, req.RoomID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExportReply{Filename: filename, Data: data}, nil
}

// Watch sends the room's report now and again after every change, until
// the client goes away. Bursts of changes may be coalesced into one report.
func (s *RoomService) Watch(req *RoomRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	if s.notifier == nil {
		return status.Error(codes.Unimplemented, "no change notifier configured")
	}
	id := models.NormalizeRoomID(req.RoomID)
	if _, err := s.engine.Get(ctx, id); err != nil {
		return toStatus(err)
	}

	changed := make(chan struct{}, 1)
	unsubscribe, err := s.notifier.Subscribe(ctx, id, "watch-"+uuid.New().String(), func(broadcast.Change) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer unsubscribe()

	for {
		r, err := s.engine.Get(ctx, id)
		if err != nil {
			return toStatus(err)
		}
		rep := services.BuildReport(r)
		if err := stream.SendMsg(&rep); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			logger.Log.Debugf("Watch of room %s ended: %v", id, ctx.Err())
			return nil
		case <-changed:
		}
	}
}

func report(r *models.Room, err error) (*services.Report, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	rep := services.BuildReport(r)
	return &rep, nil
}

func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		code = codes.NotFound
	case errors.Is(err, room.ErrNotAParticipant):
		code = codes.FailedPrecondition
	case errors.Is(err, room.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, room.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, room.ErrStaleWrite):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		logger.Log.Errorf("RPC failed: %v", err)
	}
	return status.Error(code, err.Error())
}
