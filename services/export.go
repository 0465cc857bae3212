package services

import (
	"bytes"
	"strings"
	"time"

	"github.com/wfunc/planningpoker/models"
)

// timestampLayout matches millisecond ISO-8601 in UTC, e.g. 2026-01-05T09:00:01.000Z.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"name", "card", "joinedAt", "lastSeen"}

// ExportFilename is the suggested download name for a room's CSV.
func ExportFilename(room *models.Room) string {
	return "planning-poker-" + room.ID + ".csv"
}

// ExportCSV renders one row per participant, sorted by name, under the header
// name,card,joinedAt,lastSeen. Rows are joined by "\n" with no trailing newline.
func ExportCSV(room *models.Room) []byte {
	var buf bytes.Buffer
	writeRow(&buf, csvHeader)
	for _, p := range room.ParticipantList() {
		buf.WriteByte('\n')
		writeRow(&buf, []string{p.Name, p.Card, formatTime(p.JoinedAt), formatTime(p.LastSeen)})
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quoteField(f))
	}
}

// quoteField doubles embedded quotes and wraps the field when it contains a
// quote, comma or line break.
func quoteField(f string) string {
	if !strings.ContainsAny(f, "\",\r\n") {
		return f
	}
	return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}
