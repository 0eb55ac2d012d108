package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"remindd/internal/event"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func storeRecord(rec event.Record) storage.EventRecord {
	return storage.EventRecord{
		ID:        rec.ID,
		Name:      rec.Name,
		Date:      rec.Date,
		Time:      rec.Time,
		CreatedAt: rec.CreatedAt,
	}
}

// submitResponse is the 201 body for an accepted event.
type submitResponse struct {
	EventID    string             `json:"eventId"`
	Message    string             `json:"message"`
	Registered []string           `json:"registered"`
	Skipped    []reminder.Skip    `json:"skipped"`
	Failed     []reminder.Failure `json:"failed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleSubmitEvent(c echo.Context) error {
	var in event.Input
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	rec, err := event.NewRecord(in, s.now())
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	ctx := c.Request().Context()

	// Persist first: an event we cannot store is an event we must not
	// schedule reminders for.
	if s.store != nil {
		if err := s.store.PutEvent(ctx, storeRecord(rec)); err != nil {
			s.log.Error("event persist failed", logx.String("event_id", rec.ID), logx.Err(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to persist event"})
		}
	}

	rep, err := s.sched.Schedule(ctx, rec)
	if err != nil {
		// NewRecord already validated the fields, so this is unexpected.
		s.log.Error("scheduling failed", logx.String("event_id", rec.ID), logx.Err(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to schedule reminders"})
	}

	resp := submitResponse{
		EventID:    rep.EventID,
		Message:    "event accepted",
		Registered: emptyIfNil(rep.Registered),
		Skipped:    rep.Skipped,
		Failed:     rep.Failed,
	}
	if resp.Skipped == nil {
		resp.Skipped = []reminder.Skip{}
	}
	if resp.Failed == nil {
		resp.Failed = []reminder.Failure{}
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleListEvents(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusOK, []eventView{})
	}
	recs, err := s.store.ListEvents(c.Request().Context(), 100)
	if err != nil {
		s.log.Error("event list failed", logx.Err(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list events"})
	}
	out := make([]eventView, 0, len(recs))
	for _, r := range recs {
		out = append(out, eventView{ID: r.ID, Name: r.Name, Date: r.Date, Time: r.Time})
	}
	return c.JSON(http.StatusOK, out)
}

type eventView struct {
	ID   string `json:"eventId"`
	Name string `json:"eventName"`
	Date string `json:"eventDate"`
	Time string `json:"eventTime"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
