package persistence

import (
	"github.com/wfunc/planningpoker/logger"
	"github.com/wfunc/planningpoker/models"
)

// decode turns a stored value into a room, downgrading corrupt values to
// "not found".
func decode(roomID string, raw []byte) (*models.Room, error) {
	room, err := models.DecodeRoom(raw)
	if err != nil {
		logger.Log.Warnf("Discarding unreadable document for room %s: %v", roomID, err)
		return nil, ErrRecordNotFound
	}
	return room, nil
}
