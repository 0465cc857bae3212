package services

import (
	"context"

	"github.com/wfunc/planningpoker/models"
	"github.com/wfunc/planningpoker/state"
)

// RoomReader is the read side of the room engine.
type RoomReader interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
}

// Report is the read model sent to clients: the document plus derived values.
// Average is only set once cards are revealed.
type Report struct {
	Room         *models.Room          `json:"room"`
	Phase        state.Phase           `json:"phase"`
	Average      *string               `json:"average"`
	Participants []*models.Participant `json:"participants"`
}

// BuildReport derives the report of a room.
func BuildReport(room *models.Room) Report {
	rep := Report{
		Room:         room,
		Phase:        state.PhaseOf(room.Reveal),
		Participants: room.ParticipantList(),
	}
	if rep.Phase.Revealed() {
		if avg, ok := ComputeAverage(room); ok {
			s := FormatAverage(avg)
			rep.Average = &s
		}
	}
	return rep
}

type ReportService struct {
	rooms RoomReader
}

func NewReportService(rooms RoomReader) *ReportService {
	return &ReportService{rooms: rooms}
}

// Report loads a room and builds its report.
func (s *ReportService) Report(ctx context.Context, roomID string) (Report, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return Report{}, err
	}
	return BuildReport(room), nil
}

// Export loads a room and renders it as CSV.
func (s *ReportService) Export(ctx context.Context, roomID string) (filename string, data []byte, err error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	return ExportFilename(room), ExportCSV(room), nil
}
