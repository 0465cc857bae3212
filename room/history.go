package room

import "github.com/wfunc/planningpoker/models"

// Archive puts round at the front of history and drops whatever falls past
// models.HistoryLimit. history is not modified.
func Archive(history []models.Round, round models.Round) []models.Round {
	out := make([]models.Round, 0, min(len(history)+1, models.HistoryLimit))
	out = append(out, round)
	out = append(out, history...)
	if len(out) > models.HistoryLimit {
		out = out[:models.HistoryLimit]
	}
	return out
}
