package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/clashcheck/internal/models"
)

// writeWait bounds a single websocket write.
const writeWait = 10 * time.Second

// WatchEvent is one message of the job watch feed.
type WatchEvent struct {
	Job   *models.ClashDetectionJob `json:"job,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// handleWatch streams job snapshots over a websocket whenever status or
// progress changes, and closes the stream after the terminal snapshot.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	// Unknown jobs get a plain 404 before the upgrade
	if _, err := s.deps.Jobs.GetJob(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Detect client disconnects; the feed is send-only
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var done <-chan struct{}
	if tracked := s.deps.Jobs.Job(id); tracked != nil {
		done = tracked.Done()
	}

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last *models.ClashDetectionJob
	for {
		job, err := s.deps.Jobs.GetJob(ctx, id)
		if err != nil {
			s.send(conn, WatchEvent{Error: err.Error()})
			return
		}
		if last == nil || last.Status != job.Status || last.Progress != job.Progress {
			if err := s.send(conn, WatchEvent{Job: &job}); err != nil {
				return
			}
			last = &job
		}
		if job.Status.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)),
				time.Now().Add(writeWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-done:
			done = nil
		case <-ticker.C:
		}
	}
}

func (s *Server) send(conn *websocket.Conn, event WatchEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		s.logger.Debug("watch write failed", "error", err)
		return err
	}
	return nil
}
