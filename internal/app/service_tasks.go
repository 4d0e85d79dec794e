package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/search"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

const (
	TaskStatusNew        = "new"
	TaskStatusInProgress = "in progress"
	TaskStatusDone       = "done"
	TaskStatusReady      = "ready"
	TaskStatusCanceled   = "canceled"
)

// "ready" is the older spelling of "done"; both stay accepted.
var allowedTaskStatuses = map[string]struct{}{
	TaskStatusNew:        {},
	TaskStatusInProgress: {},
	TaskStatusDone:       {},
	TaskStatusReady:      {},
	TaskStatusCanceled:   {},
}

type TaskInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Timestamp   *time.Time `json:"timestamp"`
}

// TaskChanges is a partial update. Comments replaces the embedded list and
// must name the comment that changed.
type TaskChanges struct {
	Status           *string         `json:"status"`
	Description      *string         `json:"description"`
	Name             *string         `json:"name"`
	Files            []FileUpload    `json:"files"`
	ProjectID        string          `json:"projectId"`
	Comments         *store.Comments `json:"comments"`
	ChangedCommentID string          `json:"changedCommentId"`
}

func validTaskStatus(status string) bool {
	_, ok := allowedTaskStatuses[status]
	return ok
}

func lockTask(ctx context.Context, q store.Querier, taskID string) (store.Task, error) {
	task, err := q.LockTask(ctx, taskID)
	if isNoRows(err) {
		return store.Task{}, notFound("Could not find task for the provided id.")
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("lock task %s: %w", taskID, err)
	}
	return task, nil
}

// taskFor loads a task and checks action against the task's project.
func (s *Service) taskFor(ctx context.Context, q store.Querier, taskID string, id Identity, action rbac.Action, lock bool) (store.Task, error) {
	var (
		task store.Task
		err  error
	)
	if lock {
		task, err = lockTask(ctx, q, taskID)
	} else {
		task, err = q.GetTask(ctx, taskID)
		if isNoRows(err) {
			return store.Task{}, notFound("Could not find task for the provided id.")
		}
	}
	if err != nil {
		return store.Task{}, err
	}
	if _, err := projectFor(ctx, q, task.ProjectID, id, action, false); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) newAction(actor store.User, field, oldValue, newValue string) store.Action {
	return store.Action{
		ID:          util.NewID("act"),
		Description: fmt.Sprintf("%s changed %s", actor.Name, field),
		Timestamp:   s.now(),
		UserID:      actor.ID,
		UserName:    actor.Name,
		UserLogo:    actor.LogoURL,
		Field:       field,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Name:        task.Name,
		Description: task.Description,
		Status:      task.Status,
	}
}

func (s *Service) CreateTask(ctx context.Context, projectID string, id Identity, in TaskInput) (task store.Task, err error) {
	defer s.observe("task.create", time.Now(), &err)

	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = TaskStatusNew
	}
	if !validTaskStatus(status) {
		return store.Task{}, validation("Invalid task status.", map[string]any{"status": status})
	}
	ts := s.now()
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}

	task = store.Task{
		ID:          util.NewID("tsk"),
		ProjectID:   projectID,
		UserID:      id.UserID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Status:      status,
		Timestamp:   ts,
		Files:       store.Files{},
		Actions:     store.Actions{},
		Comments:    store.Comments{},
		Version:     1,
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := projectFor(ctx, q, projectID, id, rbac.ActionWrite, false); err != nil {
			return err
		}
		if err := q.CreateTask(ctx, task); err != nil {
			return err
		}
		if err := q.AttachRef(ctx, store.ProjectTasks, projectID, task.ID, store.Prepend); err != nil {
			return err
		}
		return q.AttachRef(ctx, store.UserTasks, id.UserID, task.ID, store.Prepend)
	})
	if err != nil {
		return store.Task{}, s.fail(ctx, "task.create", err, creationFailed("Creating task failed, please try again."),
			zap.String("projectId", projectID))
	}

	s.search.IndexTask(taskRecord(task))
	s.publish(ctx, events.TaskCreated, projectID, id.UserID, task.ID, map[string]any{"status": task.Status})
	return task, nil
}

// UpdateTask applies a partial update. Every changed field appends one action;
// the version counter moves once per call. Last writer wins.
func (s *Service) UpdateTask(ctx context.Context, taskID string, id Identity, changes TaskChanges) (task store.Task, err error) {
	defer s.observe("task.update", time.Now(), &err)

	if changes.Status != nil && !validTaskStatus(*changes.Status) {
		return store.Task{}, validation("Invalid task status.", map[string]any{"status": *changes.Status})
	}
	if changes.Comments != nil && strings.TrimSpace(changes.ChangedCommentID) == "" {
		return store.Task{}, validation("changedCommentId is required when comments are updated.", nil)
	}
	prepared, err := prepareUploads(changes.Files)
	if err != nil {
		return store.Task{}, err
	}

	current, err := s.taskFor(ctx, s.store, taskID, id, rbac.ActionWrite, false)
	if err != nil {
		return store.Task{}, s.fail(ctx, "task.update", err, updateFailed("Something went wrong, could not update task."))
	}

	if changes.ProjectID != "" && changes.ProjectID != current.ProjectID {
		return store.Task{}, validation("projectId does not match the task's project.", map[string]any{"projectId": changes.ProjectID})
	}

	var uploaded store.Files
	if len(prepared) > 0 {
		uploaded = s.uploadBatch(ctx, current.ProjectID, prepared)
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		task, err = lockTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		actor, err := s.loadUser(ctx, q, id.UserID)
		if err != nil {
			return err
		}

		if changes.Status != nil && *changes.Status != task.Status {
			task.Actions = append(task.Actions, s.newAction(actor, "status", task.Status, *changes.Status))
			task.Status = *changes.Status
		}
		if changes.Description != nil && *changes.Description != task.Description {
			task.Actions = append(task.Actions, s.newAction(actor, "description", task.Description, *changes.Description))
			task.Description = *changes.Description
		}
		if changes.Name != nil && *changes.Name != task.Name {
			task.Actions = append(task.Actions, s.newAction(actor, "name", task.Name, *changes.Name))
			task.Name = *changes.Name
		}
		if len(uploaded) > 0 {
			before := fileNames(task.Files)
			task.Files = append(task.Files, uploaded...)
			task.Actions = append(task.Actions, s.newAction(actor, "files", before, fileNames(task.Files)))
		}
		if changes.Comments != nil {
			oldText := commentText(task.Comments, changes.ChangedCommentID)
			newText := commentText(*changes.Comments, changes.ChangedCommentID)
			task.Comments = *changes.Comments
			task.Actions = append(task.Actions, s.newAction(actor, "comments", oldText, newText))
		}

		if err := q.SaveTask(ctx, task); err != nil {
			return err
		}
		task.Version++
		return nil
	})
	if err != nil {
		s.discardFiles(ctx, uploaded)
		return store.Task{}, s.fail(ctx, "task.update", err, updateFailed("Something went wrong, could not update task."),
			zap.String("taskId", taskID))
	}

	s.search.IndexTask(taskRecord(task))
	s.publish(ctx, events.TaskUpdated, task.ProjectID, id.UserID, task.ID, map[string]any{"version": task.Version})
	return task, nil
}

// DeleteTask detaches the task from its project and from the deleting user's
// and the owner's lists, then deletes it, all in one transaction.
func (s *Service) DeleteTask(ctx context.Context, taskID string, id Identity) (err error) {
	defer s.observe("task.delete", time.Now(), &err)

	var task store.Task
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		task, err = s.taskFor(ctx, q, taskID, id, rbac.ActionWrite, true)
		if err != nil {
			return err
		}
		if err := detachIgnoringMissing(ctx, q, store.ProjectTasks, task.ProjectID, task.ID); err != nil {
			return err
		}
		if err := detachIgnoringMissing(ctx, q, store.UserTasks, id.UserID, task.ID); err != nil {
			return err
		}
		if task.UserID != id.UserID {
			if err := detachIgnoringMissing(ctx, q, store.UserTasks, task.UserID, task.ID); err != nil {
				return err
			}
		}
		return q.DeleteTask(ctx, task.ID)
	})
	if err != nil {
		return s.fail(ctx, "task.delete", err, deletionFailed("Something went wrong, could not delete task."),
			zap.String("taskId", taskID))
	}

	for _, file := range task.Files {
		if err := s.deleteStoredFile(ctx, file.URL); err != nil {
			s.logger.Warn(ctx, "task file left in storage", zap.String("taskId", taskID), zap.String("url", file.URL))
		}
	}
	s.search.DeleteTask(task.ID)
	s.publish(ctx, events.TaskDeleted, task.ProjectID, id.UserID, task.ID, nil)
	return nil
}

func (s *Service) GetTask(ctx context.Context, taskID string, id Identity) (task store.Task, err error) {
	defer s.observe("task.get", time.Now(), &err)

	task, err = s.taskFor(ctx, s.store, taskID, id, rbac.ActionRead, false)
	if err != nil {
		return store.Task{}, s.fail(ctx, "task.get", err, serverError("Something went wrong, could not find task."))
	}
	return task, nil
}

func (s *Service) ListProjectTasks(ctx context.Context, projectID string, id Identity) (tasks []store.Task, err error) {
	defer s.observe("task.list_project", time.Now(), &err)

	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionRead, false); err != nil {
		return nil, s.fail(ctx, "task.list_project", err, serverError("Fetching tasks failed, please try again later."))
	}
	tasks, err = s.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, s.fail(ctx, "task.list_project", err, serverError("Fetching tasks failed, please try again later."))
	}
	return tasks, nil
}

// ListUserTasks returns the caller's own tasks followed by the tasks of
// projects shared with the caller that are not already listed.
func (s *Service) ListUserTasks(ctx context.Context, id Identity) (tasks []store.Task, err error) {
	defer s.observe("task.list_user", time.Now(), &err)

	fallback := serverError("Fetching tasks failed, please try again later.")
	user, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "task.list_user", err, fallback)
	}
	own, err := s.store.ListTasksByIDs(ctx, user.Tasks)
	if err != nil {
		return nil, s.fail(ctx, "task.list_user", err, fallback)
	}
	shared, err := s.store.ListProjectsSharedWith(ctx, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "task.list_user", err, fallback)
	}

	tasks = own
	if len(shared) > 0 {
		projectIDs := make([]string, len(shared))
		for i, project := range shared {
			projectIDs[i] = project.ID
		}
		sharedTasks, err := s.store.ListTasksInProjects(ctx, projectIDs)
		if err != nil {
			return nil, s.fail(ctx, "task.list_user", err, fallback)
		}
		seen := make(map[string]struct{}, len(tasks))
		for _, task := range tasks {
			seen[task.ID] = struct{}{}
		}
		for _, task := range sharedTasks {
			if _, ok := seen[task.ID]; ok {
				continue
			}
			seen[task.ID] = struct{}{}
			tasks = append(tasks, task)
		}
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, nil
}

// detachIgnoringMissing treats an owner row that no longer exists as detached.
func detachIgnoringMissing(ctx context.Context, q store.Querier, list store.RefList, ownerID, refID string) error {
	if err := q.DetachRef(ctx, list, ownerID, refID); err != nil && !isNoRows(err) {
		return err
	}
	return nil
}
