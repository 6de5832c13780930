// Package notification turns committed review events into notices for the
// people whose turn it is to act.
package notification

import (
	"context"
	"fmt"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"go.uber.org/zap"
)

// ProjectLoader loads the project an event belongs to
type ProjectLoader interface {
	LoadProject(ctx context.Context, id int64) (*entity.Project, error)
}

// UserLister enumerates known users
type UserLister interface {
	Users() []port.Actor
}

// Router decides who hears about each review event
type Router struct {
	notifier port.Notifier
	projects ProjectLoader
	users    UserLister
	logger   *zap.Logger
}

// NewRouter creates a notice router
func NewRouter(notifier port.Notifier, projects ProjectLoader, users UserLister, logger *zap.Logger) *Router {
	return &Router{
		notifier: notifier,
		projects: projects,
		users:    users,
		logger:   logger,
	}
}

// Register subscribes the router to the review events it handles
func (r *Router) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeApplicationSubmitted, "notify-next-reviewer", r.Handle)
	d.SubscribeNamed(event.TypeReviewerApproved, "notify-next-reviewer", r.Handle)
	d.SubscribeNamed(event.TypeChangesRequested, "notify-contractor", r.Handle)
	d.SubscribeNamed(event.TypeFullyReviewed, "notify-directors", r.Handle)
	d.SubscribeNamed(event.TypeApplicationFinalized, "notify-contractor", r.Handle)
}

// Handle builds and delivers the notices for one event
func (r *Router) Handle(ctx context.Context, evt *event.Event) error {
	notices, err := r.Notices(ctx, evt)
	if err != nil {
		return err
	}

	var firstErr error
	for _, n := range notices {
		if err := r.notifier.Notify(ctx, n); err != nil {
			r.logger.Error("Failed to deliver notice",
				zap.String("recipient_id", n.RecipientID),
				zap.String("event_id", evt.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("notify %s: %w", n.RecipientID, err)
			}
		}
	}
	return firstErr
}

// Notices returns the notices an event produces; most events produce none
func (r *Router) Notices(ctx context.Context, evt *event.Event) ([]port.Notice, error) {
	revision := evt.GetPayloadInt("revision")

	switch evt.Type {
	case event.TypeApplicationSubmitted, event.TypeReviewerApproved:
		next := evt.GetPayloadString("next_reviewer")
		if next == "" {
			return nil, nil
		}
		return []port.Notice{{
			RecipientID: next,
			Subject:     fmt.Sprintf("Pay application %d awaits your review", evt.AggregateID),
			Body:        fmt.Sprintf("Revision %d of pay application %d on project %d is ready for your decision.", revision, evt.AggregateID, evt.ProjectID),
			EventID:     evt.ID,
		}}, nil

	case event.TypeChangesRequested:
		body := fmt.Sprintf("Reviewer %s requested changes to revision %d.", evt.ActorID, revision)
		if note := evt.GetPayloadString("note"); note != "" {
			body += " Note: " + note
		}
		return []port.Notice{{
			RecipientID: evt.GetPayloadString("contractor_id"),
			Subject:     fmt.Sprintf("Changes requested on pay application %d", evt.AggregateID),
			Body:        body,
			EventID:     evt.ID,
		}}, nil

	case event.TypeFullyReviewed:
		project, err := r.projects.LoadProject(ctx, evt.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("load project %d: %w", evt.ProjectID, err)
		}
		var notices []port.Notice
		for _, u := range r.users.Users() {
			if u.Role != entity.RoleDirector || u.OrganizationID != project.OrganizationID {
				continue
			}
			notices = append(notices, port.Notice{
				RecipientID: u.ID,
				Subject:     fmt.Sprintf("Pay application %d is ready to finalize", evt.AggregateID),
				Body:        fmt.Sprintf("Every reviewer approved revision %d on project %q.", revision, project.Name),
				EventID:     evt.ID,
			})
		}
		return notices, nil

	case event.TypeApplicationFinalized:
		return []port.Notice{{
			RecipientID: evt.GetPayloadString("contractor_id"),
			Subject:     fmt.Sprintf("Pay application %d finalized", evt.AggregateID),
			Body:        fmt.Sprintf("Director %s finalized revision %d. The certificate is available for export.", evt.ActorID, revision),
			EventID:     evt.ID,
		}}, nil
	}
	return nil, nil
}
