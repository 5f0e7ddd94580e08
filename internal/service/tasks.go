package service

import (
	"context"
	"fmt"
	"strings"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/xid"
)

// CreateTask assigns work to a user. Personnel may only create tasks for
// themselves.
func (s *Service) CreateTask(ctx context.Context, req domain.TaskCreateRequest) (domain.Task, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.AssignedTo = strings.ToLower(strings.TrimSpace(req.AssignedTo))
	if err := s.validateRequest(req); err != nil {
		return domain.Task{}, err
	}
	if req.AssignedTo == "" {
		req.AssignedTo = actor.Username
	}

	assigneeName := displayName(actor)
	if req.AssignedTo != actor.Username {
		if !actor.IsAdmin() {
			return domain.Task{}, fmt.Errorf("%w: personnel can only assign tasks to themselves", ErrForbidden)
		}
		user, err := s.findUser(ctx, req.AssignedTo)
		if err != nil {
			return domain.Task{}, err
		}
		assigneeName = user.Name
	}

	now := s.now()
	created, err := s.repo.CreateTask(ctx, domain.Task{
		ID:             xid.New("task"),
		Title:          req.Title,
		Description:    strings.TrimSpace(req.Description),
		AssignedTo:     req.AssignedTo,
		AssignedToName: assigneeName,
		CreatedBy:      actor.Username,
		DueDate:        req.DueDate.UTC(),
		Priority:       req.Priority,
		Status:         domain.TaskPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.logAudit(ctx, domain.ActionCreate, domain.EntityTask, created.ID,
		fmt.Sprintf("task %q assigned to %s", created.Title, created.AssignedTo),
		map[string]any{"priority": string(created.Priority)})
	return *created, nil
}

// ListTasks returns the tasks the actor may see, open ones first.
func (s *Service) ListTasks(ctx context.Context) ([]domain.Task, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	visible := tasks[:0]
	for _, task := range tasks {
		if actor.IsAdmin() || task.AssignedTo == actor.Username || task.CreatedBy == actor.Username {
			visible = append(visible, task)
		}
	}
	domain.SortTasks(visible)
	return visible, nil
}

func (s *Service) TransitionTask(ctx context.Context, id string, req domain.TaskTransitionRequest) (domain.Task, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Task{}, err
	}
	task, err := s.repo.GetTask(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Task{}, err
	}

	if !actor.IsAdmin() {
		if task.AssignedTo != actor.Username && task.CreatedBy != actor.Username {
			return domain.Task{}, store.ErrNotFound
		}
		if req.Event != domain.TaskRequestApproval || task.AssignedTo != actor.Username {
			return domain.Task{}, fmt.Errorf("%w: only admins can %s tasks", ErrForbidden, strings.ToLower(string(req.Event)))
		}
	}
	note := strings.TrimSpace(req.Note)
	if req.Event == domain.TaskReject && note == "" {
		return domain.Task{}, invalid("a note is required when rejecting a task")
	}

	next, err := domain.NextTaskStatus(task.Status, req.Event, actor.IsAdmin())
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %s from %s", err, req.Event, task.Status)
	}

	prev := task.Status
	task.Status = next
	if note != "" && actor.IsAdmin() {
		task.AdminNote = note
	}
	task.UpdatedAt = s.now()
	updated, err := s.repo.UpdateTask(ctx, *task)
	if err != nil {
		return domain.Task{}, err
	}
	s.logAudit(ctx, domain.ActionStatusChange, domain.EntityTask, updated.ID,
		fmt.Sprintf("task %q %s -> %s", updated.Title, prev, updated.Status),
		map[string]any{"event": string(req.Event)})
	return *updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.requireAdmin(ctx); err != nil {
		return err
	}
	task, err := s.repo.GetTask(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	s.logAudit(ctx, domain.ActionDelete, domain.EntityTask, task.ID,
		fmt.Sprintf("task %q deleted", task.Title), nil)
	return nil
}

func (s *Service) findUser(ctx context.Context, username string) (domain.UserAccount, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, err
	}
	for _, user := range users {
		if user.Username == username {
			return user, nil
		}
	}
	return domain.UserAccount{}, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
}
