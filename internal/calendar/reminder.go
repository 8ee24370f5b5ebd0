package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Reminder describes the calendar event to create for an ending
// subscription or trial.
type Reminder struct {
	ServiceName string
	Kind        string
	EndDate     time.Time
	LeadDays    int
}

// Scheduler creates, updates, and deletes calendar reminders. All
// operations tolerate the calendar being unreachable by returning an
// error the caller treats as non-fatal.
type Scheduler interface {
	CreateReminder(ctx context.Context, r Reminder) (string, error)
	UpdateReminder(ctx context.Context, eventID string, r Reminder) error
	DeleteReminder(ctx context.Context, eventID string) error
}

// GoogleScheduler implements Scheduler on the Google Calendar API. One
// scheduler carries one account's credential.
type GoogleScheduler struct {
	svc        *calendar.Service
	calendarID string
	now        func() time.Time
}

func NewGoogleScheduler(ctx context.Context, token *oauth2.Token, calendarID string) (*GoogleScheduler, error) {
	svc, err := calendar.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &GoogleScheduler{svc: svc, calendarID: calendarID, now: time.Now}, nil
}

// CreateReminder creates an all-day reminder event lead days ahead of the
// end date. Returns an empty id without creating anything when the
// reminder date is already in the past.
func (s *GoogleScheduler) CreateReminder(ctx context.Context, r Reminder) (string, error) {
	remindAt := RemindDate(r.EndDate, r.LeadDays)
	if remindAt.Before(s.now()) {
		return "", nil
	}

	event, err := s.svc.Events.Insert(s.calendarID, buildEvent(r, remindAt)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create reminder event: %w", err)
	}
	return event.Id, nil
}

// UpdateReminder moves an existing reminder to match a corrected end date.
func (s *GoogleScheduler) UpdateReminder(ctx context.Context, eventID string, r Reminder) error {
	remindAt := RemindDate(r.EndDate, r.LeadDays)
	_, err := s.svc.Events.Update(s.calendarID, eventID, buildEvent(r, remindAt)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update reminder event: %w", err)
	}
	return nil
}

// DeleteReminder removes the reminder event.
func (s *GoogleScheduler) DeleteReminder(ctx context.Context, eventID string) error {
	if err := s.svc.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete reminder event: %w", err)
	}
	return nil
}

// RemindDate computes the day the reminder fires.
func RemindDate(endDate time.Time, leadDays int) time.Time {
	return endDate.AddDate(0, 0, -leadDays)
}

func buildEvent(r Reminder, remindAt time.Time) *calendar.Event {
	noun := "Subscription"
	if r.Kind == "trial" {
		noun = "Trial"
	}

	// All-day event; the end date is exclusive.
	day := remindAt.Format("2006-01-02")
	next := remindAt.AddDate(0, 0, 1).Format("2006-01-02")
	return &calendar.Event{
		Summary: fmt.Sprintf("%s ending soon: %s", noun, r.ServiceName),
		Description: fmt.Sprintf("Your %s %s ends on %s. Cancel before then if you no longer need it.",
			r.ServiceName, r.Kind, r.EndDate.Format("2006-01-02")),
		Start: &calendar.EventDateTime{Date: day},
		End:   &calendar.EventDateTime{Date: next},
	}
}
