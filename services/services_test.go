package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/planningpoker/models"
)

func roomWithCards(cards map[string]string) *models.Room {
	r := models.NewRoom("ABC12", time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), nil)
	for name, card := range cards {
		r.Participants[name] = &models.Participant{Name: name, Card: card}
	}
	return r
}

func TestComputeAverage(t *testing.T) {
	tests := []struct {
		name  string
		cards map[string]string
		want  string
		ok    bool
	}{
		{"numeric", map[string]string{"A": "3", "B": "5", "C": "8"}, "5.33", true},
		{"ignores glyphs", map[string]string{"A": "?", "B": "☕", "C": "13"}, "13.00", true},
		{"nothing numeric", map[string]string{"A": "?", "B": "☕"}, "", false},
		{"no cards", map[string]string{"A": "", "B": ""}, "", false},
		{"stripped fraction", map[string]string{"A": "1/2"}, "12.00", true},
		{"decimal and negative", map[string]string{"A": "0.5", "B": "-1.5"}, "-0.50", true},
		{"leading number only", map[string]string{"A": "3-5"}, "3.00", true},
		{"unit suffix", map[string]string{"A": "8h", "B": "4h"}, "6.00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg, ok := ComputeAverage(roomWithCards(tt.cards))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, FormatAverage(avg))
			}
		})
	}
}

func TestComputeAverage_NilRoom(t *testing.T) {
	_, ok := ComputeAverage(nil)
	assert.False(t, ok)
}

func exportRoom() *models.Room {
	joined := time.Date(2026, 1, 5, 9, 0, 1, 0, time.UTC)
	seen := time.Date(2026, 1, 5, 9, 3, 7, 250_000_000, time.UTC)
	r := models.NewRoom("ABC12", joined, nil)
	r.Participants["Cara, Smith"] = &models.Participant{Name: "Cara, Smith", Card: "?", JoinedAt: joined, LastSeen: seen}
	r.Participants["Ann"] = &models.Participant{Name: "Ann", Card: "5", JoinedAt: joined, LastSeen: seen}
	r.Participants[`Bob "The Builder"`] = &models.Participant{Name: `Bob "The Builder"`, JoinedAt: joined, LastSeen: joined}
	return r
}

func TestExportCSV(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "export", ExportCSV(exportRoom()))
}

func TestExportCSV_EmptyRoom(t *testing.T) {
	r := models.NewRoom("ABC12", time.Now(), nil)
	assert.Equal(t, "name,card,joinedAt,lastSeen", string(ExportCSV(r)))
	assert.Equal(t, "planning-poker-ABC12.csv", ExportFilename(r))
}

func TestQuoteField(t *testing.T) {
	assert.Equal(t, "plain", quoteField("plain"))
	assert.Equal(t, `"say ""hi"""`, quoteField(`say "hi"`))
	assert.Equal(t, `"a,b"`, quoteField("a,b"))
}

func TestBuildReport(t *testing.T) {
	r := roomWithCards(map[string]string{"Bob": "8", "Ann": "5"})

	rep := BuildReport(r)
	assert.Equal(t, "active", string(rep.Phase))
	assert.Nil(t, rep.Average, "average stays hidden until reveal")
	require.Len(t, rep.Participants, 2)
	assert.Equal(t, "Ann", rep.Participants[0].Name)

	r.Reveal = true
	rep = BuildReport(r)
	assert.Equal(t, "revealed", string(rep.Phase))
	require.NotNil(t, rep.Average)
	assert.Equal(t, "6.50", *rep.Average)
}

// MockRoomReader serves a fixed room.
type MockRoomReader struct {
	room *models.Room
}

func (m *MockRoomReader) Get(ctx context.Context, roomID string) (*models.Room, error) {
	if m.room == nil || m.room.ID != roomID {
		return nil, errors.New("room not found")
	}
	return m.room, nil
}

func TestReportService(t *testing.T) {
	svc := NewReportService(&MockRoomReader{room: exportRoom()})
	ctx := context.Background()

	rep, err := svc.Report(ctx, "ABC12")
	require.NoError(t, err)
	assert.Equal(t, "ABC12", rep.Room.ID)

	name, data, err := svc.Export(ctx, "ABC12")
	require.NoError(t, err)
	assert.Equal(t, "planning-poker-ABC12.csv", name)
	assert.Equal(t, ExportCSV(exportRoom()), data)

	_, err = svc.Report(ctx, "NOPE1")
	assert.Error(t, err)
}
