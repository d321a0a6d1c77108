package db

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wlnet/metaclient/internal/events"
)

// recorder turns bus events into history rows. Handlers run on bus
// goroutines, so the open session id is guarded.
type recorder struct {
	db *HistoryDatabase

	mu        sync.Mutex
	sessionID int64
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	var err error
	switch p := e.Payload.(type) {
	case events.ChatPayload:
		err = r.db.RecordChat(p.Sender, p.Message, string(p.Type), e.Time)
	case events.TextPayload:
		err = r.db.RecordNotice(string(e.Type), p.Text, e.Time)
	case events.ErrorPayload:
		err = r.db.RecordNotice(string(e.Type), p.Message, e.Time)
	case events.LoggedInPayload:
		if p.CheckOnly {
			return nil
		}
		var id int64
		id, err = r.db.StartSession(p.Nickname, p.Rights.String(), e.Time)
		if err == nil {
			r.mu.Lock()
			r.sessionID = id
			r.mu.Unlock()
		}
	case events.DisconnectedPayload:
		r.mu.Lock()
		id := r.sessionID
		r.sessionID = 0
		r.mu.Unlock()
		if id == 0 {
			return nil
		}
		err = r.db.EndSession(id, p.Reason, e.Time)
	default:
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("event", string(e.Type)).Msg("failed to record history")
	}
	return err
}
