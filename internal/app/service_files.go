package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/storage"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

// FileUpload is one file in a request body. Data is base64, optionally as a data: URL.
type FileUpload struct {
	Name   string `json:"name"`
	Data   string `json:"data"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

type preparedUpload struct {
	name        string
	contentType string
	body        []byte
	width       *int
	height      *int
}

func prepareUploads(uploads []FileUpload) ([]preparedUpload, error) {
	prepared := make([]preparedUpload, 0, len(uploads))
	for _, upload := range uploads {
		p, err := prepareUpload(upload)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}
	return prepared, nil
}

func prepareUpload(upload FileUpload) (preparedUpload, error) {
	name := strings.TrimSpace(upload.Name)
	if name == "" {
		return preparedUpload{}, validation("File name is required.", nil)
	}
	contentType, err := storage.ContentType(name)
	if err != nil {
		return preparedUpload{}, validation("Unsupported file type.", map[string]any{"name": name})
	}
	body, err := storage.DecodeData(upload.Data)
	if err != nil {
		return preparedUpload{}, validation("File data must be base64 encoded.", map[string]any{"name": name})
	}

	p := preparedUpload{name: name, contentType: contentType, body: body, width: upload.Width, height: upload.Height}
	if p.width == nil || p.height == nil {
		if w, h, ok := storage.ImageSize(body); ok {
			p.width, p.height = &w, &h
		}
	}
	return p, nil
}

func (s *Service) putFile(ctx context.Context, projectID string, p preparedUpload) (store.File, error) {
	fileID := util.NewID("fil")
	key := storage.ObjectKey(projectID, fileID, p.name)
	url, err := s.storage.Put(ctx, key, p.contentType, p.body)
	s.metrics.Upload(err)
	if err != nil {
		return store.File{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return store.File{
		ID:     fileID,
		Name:   p.name,
		URL:    url,
		Width:  p.width,
		Height: p.height,
	}, nil
}

// uploadBatch uploads every file and keeps the successes. Failures are logged
// and dropped from the result.
func (s *Service) uploadBatch(ctx context.Context, projectID string, prepared []preparedUpload) store.Files {
	files := make(store.Files, 0, len(prepared))
	for _, p := range prepared {
		file, err := s.putFile(ctx, projectID, p)
		if err != nil {
			s.logger.Warn(ctx, "file upload failed, skipping",
				zap.String("projectId", projectID),
				zap.String("file", p.name),
				zap.Error(err),
			)
			continue
		}
		files = append(files, file)
	}
	return files
}

// discardFiles removes objects uploaded for a write that did not commit.
func (s *Service) discardFiles(ctx context.Context, files store.Files) {
	for _, file := range files {
		if err := s.storage.Delete(ctx, file.URL); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn(ctx, "orphaned upload could not be removed", zap.String("url", file.URL), zap.Error(err))
		}
	}
}

// deleteStoredFile removes one object. A missing object counts as deleted.
func (s *Service) deleteStoredFile(ctx context.Context, url string) error {
	err := s.storage.Delete(ctx, url)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	s.logger.Error(ctx, "storage delete failed", zap.String("url", url), zap.Error(err))
	return storageFailed("The file could not be removed from storage, please try again later.")
}

func findFile(files store.Files, fileID string) (store.File, int) {
	for i, file := range files {
		if file.ID == fileID {
			return file, i
		}
	}
	return store.File{}, -1
}

func spliceFile(files store.Files, index int) store.Files {
	out := make(store.Files, 0, len(files)-1)
	out = append(out, files[:index]...)
	return append(out, files[index+1:]...)
}

func fileNames(files store.Files) string {
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	return strings.Join(names, ", ")
}

func (s *Service) AddProjectFiles(ctx context.Context, projectID string, id Identity, uploads []FileUpload) (files store.Files, err error) {
	defer s.observe("project.files.add", time.Now(), &err)

	prepared, err := prepareUploads(uploads)
	if err != nil {
		return nil, err
	}
	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionWrite, false); err != nil {
		return nil, s.fail(ctx, "project.files.add", err, updateFailed("Something went wrong, could not update project."))
	}

	uploaded := s.uploadBatch(ctx, projectID, prepared)
	var project store.Project
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = loadProject(ctx, q, projectID, true)
		if err != nil {
			return err
		}
		project.Files = append(project.Files, uploaded...)
		return q.SaveProject(ctx, project)
	})
	if err != nil {
		s.discardFiles(ctx, uploaded)
		return nil, s.fail(ctx, "project.files.add", err, updateFailed("Something went wrong, could not update project."),
			zap.String("projectId", projectID))
	}

	for _, file := range uploaded {
		s.publish(ctx, events.FileAdded, projectID, id.UserID, file.ID, map[string]any{"owner": "project", "name": file.Name})
	}
	return project.Files, nil
}

func (s *Service) RemoveProjectFile(ctx context.Context, projectID, fileID string, id Identity) (files store.Files, err error) {
	defer s.observe("project.files.remove", time.Now(), &err)

	project, err := projectFor(ctx, s.store, projectID, id, rbac.ActionWrite, false)
	if err != nil {
		return nil, s.fail(ctx, "project.files.remove", err, updateFailed("Something went wrong, could not update project."))
	}
	file, index := findFile(project.Files, fileID)
	if index < 0 {
		return nil, notFound("Could not find file for the provided id.")
	}
	if err := s.deleteStoredFile(ctx, file.URL); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = loadProject(ctx, q, projectID, true)
		if err != nil {
			return err
		}
		if _, index := findFile(project.Files, fileID); index >= 0 {
			project.Files = spliceFile(project.Files, index)
		}
		return q.SaveProject(ctx, project)
	})
	if err != nil {
		return nil, s.fail(ctx, "project.files.remove", err, updateFailed("Something went wrong, could not update project."),
			zap.String("projectId", projectID), zap.String("fileId", fileID))
	}

	s.publish(ctx, events.FileRemoved, projectID, id.UserID, fileID, map[string]any{"owner": "project"})
	return project.Files, nil
}

func (s *Service) AddTaskFiles(ctx context.Context, taskID string, id Identity, uploads []FileUpload) (store.Task, error) {
	return s.UpdateTask(ctx, taskID, id, TaskChanges{Files: uploads})
}

func (s *Service) RemoveTaskFile(ctx context.Context, taskID, fileID string, id Identity) (task store.Task, err error) {
	defer s.observe("task.files.remove", time.Now(), &err)

	task, err = s.taskFor(ctx, s.store, taskID, id, rbac.ActionWrite, false)
	if err != nil {
		return store.Task{}, s.fail(ctx, "task.files.remove", err, updateFailed("Something went wrong, could not update task."))
	}
	file, index := findFile(task.Files, fileID)
	if index < 0 {
		return store.Task{}, notFound("Could not find file for the provided id.")
	}
	if err := s.deleteStoredFile(ctx, file.URL); err != nil {
		return store.Task{}, err
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
		before := fileNames(task.Files)
		if _, index := findFile(task.Files, fileID); index >= 0 {
			task.Files = spliceFile(task.Files, index)
		}
		task.Actions = append(task.Actions, s.newAction(actor, "files", before, fileNames(task.Files)))
		if err := q.SaveTask(ctx, task); err != nil {
			return err
		}
		task.Version++
		return nil
	})
	if err != nil {
		return store.Task{}, s.fail(ctx, "task.files.remove", err, updateFailed("Something went wrong, could not update task."),
			zap.String("taskId", taskID), zap.String("fileId", fileID))
	}

	s.publish(ctx, events.FileRemoved, task.ProjectID, id.UserID, fileID, map[string]any{"owner": "task", "taskId": taskID})
	return task, nil
}

func (s *Service) AddTransactionFiles(ctx context.Context, transactionID string, id Identity, uploads []FileUpload) (trx store.Transaction, err error) {
	defer s.observe("transaction.files.add", time.Now(), &err)

	prepared, err := prepareUploads(uploads)
	if err != nil {
		return store.Transaction{}, err
	}
	trx, err = s.transactionFor(ctx, s.store, transactionID, id, rbac.ActionWrite, false)
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.files.add", err, updateFailed("Something went wrong, could not update transaction."))
	}

	uploaded := s.uploadBatch(ctx, trx.ProjectID, prepared)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = lockTransaction(ctx, q, transactionID)
		if err != nil {
			return err
		}
		trx.Files = append(trx.Files, uploaded...)
		if err := q.SaveTransaction(ctx, trx); err != nil {
			return err
		}
		trx.Version++
		return nil
	})
	if err != nil {
		s.discardFiles(ctx, uploaded)
		return store.Transaction{}, s.fail(ctx, "transaction.files.add", err, updateFailed("Something went wrong, could not update transaction."),
			zap.String("transactionId", transactionID))
	}

	for _, file := range uploaded {
		s.publish(ctx, events.FileAdded, trx.ProjectID, id.UserID, file.ID, map[string]any{"owner": "transaction", "transactionId": transactionID})
	}
	return trx, nil
}

func (s *Service) RemoveTransactionFile(ctx context.Context, transactionID, fileID string, id Identity) (trx store.Transaction, err error) {
	defer s.observe("transaction.files.remove", time.Now(), &err)

	trx, err = s.transactionFor(ctx, s.store, transactionID, id, rbac.ActionWrite, false)
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.files.remove", err, updateFailed("Something went wrong, could not update transaction."))
	}
	file, index := findFile(trx.Files, fileID)
	if index < 0 {
		return store.Transaction{}, notFound("Could not find file for the provided id.")
	}
	if err := s.deleteStoredFile(ctx, file.URL); err != nil {
		return store.Transaction{}, err
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = lockTransaction(ctx, q, transactionID)
		if err != nil {
			return err
		}
		if _, index := findFile(trx.Files, fileID); index >= 0 {
			trx.Files = spliceFile(trx.Files, index)
		}
		if err := q.SaveTransaction(ctx, trx); err != nil {
			return err
		}
		trx.Version++
		return nil
	})
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.files.remove", err, updateFailed("Something went wrong, could not update transaction."),
			zap.String("transactionId", transactionID), zap.String("fileId", fileID))
	}

	s.publish(ctx, events.FileRemoved, trx.ProjectID, id.UserID, fileID, map[string]any{"owner": "transaction", "transactionId": transactionID})
	return trx, nil
}
