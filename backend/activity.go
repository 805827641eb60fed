// ABOUTME: Notification generation from backend writes
// ABOUTME: Turns task assignment, completion, comments, replies, and reactions into user notifications
package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// Notification kinds.
const (
	KindTaskAssigned  = "task_assigned"
	KindTaskCompleted = "task_completed"
	KindComment       = "comment"
	KindReply         = "reply"
	KindReaction      = "reaction"
)

// activity describes one notification to deliver.
type activity struct {
	recipient string
	projectID string
	kind      string
	message   string
}

// actorOf names who made a write: the authenticated account when served
// over HTTP, otherwise the author column of the record.
func actorOf(ctx context.Context, rec models.Record, column string) (id, name string) {
	if acct, ok := AccountFrom(ctx); ok {
		name = acct.Name
		if name == "" {
			name = acct.Email
		}
		return acct.ID, name
	}
	id = rec.String(column)
	return id, id
}

// onInsert derives notifications from a newly created row.
func (s *Service) onInsert(ctx context.Context, table string, rec models.Record) []activity {
	switch table {
	case models.CollectionTasks:
		actor, name := actorOf(ctx, rec, "created_by")
		return assignment(rec, actor, name)

	case models.CollectionComments:
		taskID := rec.String("task_id")
		if taskID == "" {
			return nil
		}
		task, err := s.repo.Get(ctx, models.CollectionTasks, taskID)
		if err != nil {
			return nil
		}
		actor, name := actorOf(ctx, rec, "author_id")
		msg := fmt.Sprintf("%s commented on %q", name, task.String("title"))
		var out []activity
		for _, to := range []string{task.String("created_by"), task.String("assignee_id")} {
			out = append(out, activity{recipient: to, projectID: task.String("project_id"), kind: KindComment, message: msg})
		}
		return withoutActor(out, actor)

	case models.CollectionDiscussionComments:
		parentID := rec.String("parent_id")
		if parentID == "" {
			return nil
		}
		parent, err := s.repo.Get(ctx, models.CollectionDiscussionComments, parentID)
		if err != nil {
			return nil
		}
		actor, name := actorOf(ctx, rec, "author_id")
		return withoutActor([]activity{{
			recipient: parent.String("author_id"),
			projectID: rec.String("project_id"),
			kind:      KindReply,
			message:   fmt.Sprintf("%s replied to your post", name),
		}}, actor)

	case models.CollectionReactions:
		actor, name := actorOf(ctx, rec, "user_id")
		for _, t := range []string{models.CollectionDiscussionComments, models.CollectionComments} {
			target, err := s.repo.Get(ctx, t, rec.String("target_id"))
			if err != nil {
				continue
			}
			return withoutActor([]activity{{
				recipient: target.String("author_id"),
				projectID: rec.String("project_id"),
				kind:      KindReaction,
				message:   fmt.Sprintf("%s reacted %s to your comment", name, rec.String("emoji")),
			}}, actor)
		}
	}
	return nil
}

// onUpdate derives notifications from a patch applied to a row.
func (s *Service) onUpdate(ctx context.Context, table string, patch, updated models.Record) []activity {
	if table != models.CollectionTasks {
		return nil
	}
	actor, name := actorOf(ctx, models.Record{}, "")

	var out []activity
	if _, ok := patch["assignee_id"]; ok {
		out = append(out, assignment(updated, actor, name)...)
	}
	if patch.String("status") == models.TaskStatusCompleted {
		out = append(out, withoutActor([]activity{{
			recipient: updated.String("created_by"),
			projectID: updated.String("project_id"),
			kind:      KindTaskCompleted,
			message:   fmt.Sprintf("%q was completed", updated.String("title")),
		}}, actor)...)
	}
	return out
}

func assignment(task models.Record, actor, name string) []activity {
	msg := fmt.Sprintf("You were assigned %q", task.String("title"))
	if name != "" {
		msg = fmt.Sprintf("%s assigned you %q", name, task.String("title"))
	}
	return withoutActor([]activity{{
		recipient: task.String("assignee_id"),
		projectID: task.String("project_id"),
		kind:      KindTaskAssigned,
		message:   msg,
	}}, actor)
}

// withoutActor drops empty and duplicate recipients and the actor.
func withoutActor(in []activity, actor string) []activity {
	seen := map[string]bool{"": true, actor: true}
	out := in[:0]
	for _, a := range in {
		if seen[a.recipient] {
			continue
		}
		seen[a.recipient] = true
		out = append(out, a)
	}
	return out
}

// notify stores and publishes notifications. The triggering write has
// already succeeded, so failures are only logged.
func (s *Service) notify(ctx context.Context, acts []activity) {
	for _, a := range acts {
		rec := models.Record{
			"id":         uuid.New().String(),
			"user_id":    a.recipient,
			"project_id": a.projectID,
			"kind":       a.kind,
			"message":    a.message,
			"read":       false,
			"created_at": models.Now(),
		}
		created, err := s.repo.Create(ctx, models.CollectionNotifications, rec)
		if err != nil {
			s.logger.Warn("failed to create notification", "kind", a.kind, "err", err)
			continue
		}
		s.publish(gateway.ChangeEvent{
			Table:     models.CollectionNotifications,
			Operation: gateway.OpInsert,
			RecordID:  created.ID(),
			Record:    created,
		}, created)
	}
}
