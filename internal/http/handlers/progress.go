package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/http/middleware"
	"github.com/civchange/pdf2psd-back/internal/progress"
	"github.com/civchange/pdf2psd-back/internal/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
	wsMaxFrameBytes   = 4096
	wsObserverBuffer  = 64
	wsControlBuffer   = 8
	frameJoinJob      = "join-job"
	frameLeaveJob     = "leave-job"
	frameControlError = "error"
)

type clientFrame struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

type controlFrame struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message"`
}

// Progress upgrades to a websocket on which clients join job topics and
// receive their events.
func (api *API) Progress(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.Warn().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("websocket upgrade failed")
		return
	}

	session := &progressSession{
		conn:        conn,
		conversions: api.conversions,
		observer:    progress.NewChannelObserver(wsObserverBuffer),
		control:     make(chan controlFrame, wsControlBuffer),
		jobs:        make(map[string]struct{}),
		logger: api.logger.With().
			Str("request_id", middleware.GetRequestID(r.Context())).
			Logger(),
	}
	session.run()
}

type progressSession struct {
	conn        *websocket.Conn
	conversions *service.ConversionService
	observer    *progress.ChannelObserver
	control     chan controlFrame
	logger      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]struct{}
}

func (s *progressSession) run() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(done)
	}()

	s.readLoop()

	close(done)
	wg.Wait()
	s.leaveAll()
	s.observer.Close()
	_ = s.conn.Close()
}

func (s *progressSession) readLoop() {
	s.conn.SetReadLimit(wsMaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}

		jobID := strings.TrimSpace(frame.JobID)
		switch frame.Type {
		case frameJoinJob:
			s.join(jobID)
		case frameLeaveJob:
			s.leave(jobID)
		default:
			s.reply(controlFrame{Type: frameControlError, JobID: jobID, Message: "unknown frame type"})
		}
	}
}

// join subscribes before reading the snapshot so no event between the two
// is lost. The writer discards anything older than what it already sent.
func (s *progressSession) join(jobID string) {
	if jobID == "" {
		s.reply(controlFrame{Type: frameControlError, Message: "jobId is required"})
		return
	}

	s.mu.Lock()
	_, already := s.jobs[jobID]
	s.jobs[jobID] = struct{}{}
	s.mu.Unlock()
	if !already {
		s.conversions.Subscribe(jobID, s.observer)
	}

	snapshot, ok := s.conversions.Snapshot(jobID)
	if !ok {
		s.leave(jobID)
		s.reply(controlFrame{Type: frameControlError, JobID: jobID, Message: "job not found"})
		return
	}
	s.observer.Notify(snapshot)
}

func (s *progressSession) leave(jobID string) {
	s.mu.Lock()
	_, joined := s.jobs[jobID]
	delete(s.jobs, jobID)
	s.mu.Unlock()
	if joined {
		s.conversions.Unsubscribe(jobID, s.observer)
	}
}

func (s *progressSession) leaveAll() {
	s.mu.Lock()
	jobs := make([]string, 0, len(s.jobs))
	for jobID := range s.jobs {
		jobs = append(jobs, jobID)
	}
	s.jobs = make(map[string]struct{})
	s.mu.Unlock()

	for _, jobID := range jobs {
		s.conversions.Unsubscribe(jobID, s.observer)
	}
}

func (s *progressSession) reply(frame controlFrame) {
	select {
	case s.control <- frame:
	default:
		s.logger.Warn().Str("job_id", frame.JobID).Msg("dropping websocket control frame")
	}
}

func (s *progressSession) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	sent := make(map[string]int)
	for {
		select {
		case <-done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-s.control:
			if !s.write(frame) {
				return
			}
		case event, ok := <-s.observer.Events():
			if !ok {
				return
			}
			if !forwardEvent(sent, event) {
				continue
			}
			if !s.write(event) {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// forwardEvent keeps each job's stream monotonic. Terminal events always pass.
func forwardEvent(sent map[string]int, event domain.Event) bool {
	last, seen := sent[event.JobID]
	if seen && !event.Terminal() && event.Progress < last {
		return false
	}
	if !seen || event.Progress > last {
		sent[event.JobID] = event.Progress
	}
	return true
}

func (s *progressSession) write(value any) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(value); err != nil {
		s.logger.Debug().Err(err).Msg("websocket write failed")
		_ = s.conn.Close()
		return false
	}
	return true
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowAny := len(allowedOrigins) == 0
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAny = true
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAny || origin == "" {
			return true
		}
		for _, allowed := range origins {
			if strings.EqualFold(allowed, origin) {
				return true
			}
		}
		return false
	}
}
