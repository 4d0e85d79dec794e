package app

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

type CommentInput struct {
	Text     string       `json:"text"`
	Mentions []string     `json:"mentions"`
	ParentID string       `json:"parentId"`
	Files    []FileUpload `json:"files"`
}

func commentText(comments store.Comments, commentID string) string {
	for _, comment := range comments {
		if comment.ID == commentID {
			return comment.Text
		}
	}
	return ""
}

func spliceComment(comments store.Comments, commentID string) (store.Comments, store.EmbeddedComment, bool) {
	for i, comment := range comments {
		if comment.ID != commentID {
			continue
		}
		out := make(store.Comments, 0, len(comments)-1)
		out = append(out, comments[:i]...)
		return append(out, comments[i+1:]...), comment, true
	}
	return comments, store.EmbeddedComment{}, false
}

func findComment(comments store.Comments, commentID string) (store.EmbeddedComment, bool) {
	for _, comment := range comments {
		if comment.ID == commentID {
			return comment, true
		}
	}
	return store.EmbeddedComment{}, false
}

// canDeleteComment allows the author or a project admin.
func canDeleteComment(ctx context.Context, q store.Querier, projectID, authorID, userID string) error {
	if authorID == userID {
		return nil
	}
	project, err := loadProject(ctx, q, projectID, false)
	if err != nil {
		return err
	}
	return authorize(ctx, q, project, userID, rbac.ActionAdmin)
}

func (s *Service) buildComment(ctx context.Context, projectID string, id Identity, in CommentInput) (store.EmbeddedComment, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return store.EmbeddedComment{}, validation("Comment text is required.", nil)
	}
	prepared, err := prepareUploads(in.Files)
	if err != nil {
		return store.EmbeddedComment{}, err
	}
	actor, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return store.EmbeddedComment{}, err
	}
	mentions := in.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	return store.EmbeddedComment{
		ID:         util.NewID("cmt"),
		UserID:     id.UserID,
		AuthorName: actor.Name,
		Text:       text,
		Mentions:   mentions,
		ParentID:   strings.TrimSpace(in.ParentID),
		Files:      s.uploadBatch(ctx, projectID, prepared),
		Timestamp:  s.now(),
	}, nil
}

func (s *Service) ListProjectComments(ctx context.Context, projectID string, id Identity) (comments []store.Comment, err error) {
	defer s.observe("comment.list_project", time.Now(), &err)

	project, err := projectFor(ctx, s.store, projectID, id, rbac.ActionRead, false)
	if err != nil {
		return nil, s.fail(ctx, "comment.list_project", err, serverError("Fetching comments failed, please try again later."))
	}
	comments, err = s.store.ListCommentsByIDs(ctx, project.Comments)
	if err != nil {
		return nil, s.fail(ctx, "comment.list_project", err, serverError("Fetching comments failed, please try again later."))
	}
	return comments, nil
}

// AddProjectComment inserts the comment row and prepends its id to the project
// in one transaction, then returns the project's comments newest first.
func (s *Service) AddProjectComment(ctx context.Context, projectID string, id Identity, in CommentInput) (comments []store.Comment, err error) {
	defer s.observe("comment.add_project", time.Now(), &err)

	fallback := creationFailed("Something went wrong, could not create comment.")
	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionComment, false); err != nil {
		return nil, s.fail(ctx, "comment.add_project", err, fallback)
	}
	embedded, err := s.buildComment(ctx, projectID, id, in)
	if err != nil {
		return nil, s.fail(ctx, "comment.add_project", err, fallback)
	}
	comment := store.Comment{
		ID:         embedded.ID,
		ProjectID:  projectID,
		UserID:     embedded.UserID,
		AuthorName: embedded.AuthorName,
		Text:       embedded.Text,
		Mentions:   store.StringList(embedded.Mentions),
		ParentID:   embedded.ParentID,
		Files:      embedded.Files,
		CreatedAt:  embedded.Timestamp,
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		if err := q.CreateComment(ctx, comment); err != nil {
			return err
		}
		return q.AttachRef(ctx, store.ProjectComments, projectID, comment.ID, store.Prepend)
	})
	if err != nil {
		s.discardFiles(ctx, comment.Files)
		return nil, s.fail(ctx, "comment.add_project", err, fallback, zap.String("projectId", projectID))
	}

	s.publish(ctx, events.CommentAdded, projectID, id.UserID, comment.ID, map[string]any{"owner": "project"})
	return s.ListProjectComments(ctx, projectID, id)
}

func (s *Service) DeleteProjectComment(ctx context.Context, projectID, commentID string, id Identity) (err error) {
	defer s.observe("comment.delete_project", time.Now(), &err)

	var comment store.Comment
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		comment, err = q.GetComment(ctx, commentID)
		if isNoRows(err) || (err == nil && comment.ProjectID != projectID) {
			return notFound("Comment not found.")
		}
		if err != nil {
			return err
		}
		if err := canDeleteComment(ctx, q, projectID, comment.UserID, id.UserID); err != nil {
			return err
		}
		if err := detachIgnoringMissing(ctx, q, store.ProjectComments, projectID, commentID); err != nil {
			return err
		}
		return q.DeleteComment(ctx, commentID)
	})
	if err != nil {
		return s.fail(ctx, "comment.delete_project", err, deletionFailed("Something went wrong, please try again later."),
			zap.String("projectId", projectID), zap.String("commentId", commentID))
	}

	s.dropCommentFiles(ctx, comment.Files)
	s.publish(ctx, events.CommentDeleted, projectID, id.UserID, commentID, map[string]any{"owner": "project"})
	return nil
}

func (s *Service) AddTaskComment(ctx context.Context, taskID string, id Identity, in CommentInput) (comments store.Comments, err error) {
	defer s.observe("comment.add_task", time.Now(), &err)

	fallback := creationFailed("Something went wrong, could not create comment.")
	task, err := s.taskFor(ctx, s.store, taskID, id, rbac.ActionComment, false)
	if err != nil {
		return nil, s.fail(ctx, "comment.add_task", err, fallback)
	}
	comment, err := s.buildComment(ctx, task.ProjectID, id, in)
	if err != nil {
		return nil, s.fail(ctx, "comment.add_task", err, fallback)
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		task, err = lockTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		task.Comments = append(store.Comments{comment}, task.Comments...)
		return q.SaveTask(ctx, task)
	})
	if err != nil {
		s.discardFiles(ctx, comment.Files)
		return nil, s.fail(ctx, "comment.add_task", err, fallback, zap.String("taskId", taskID))
	}

	s.publish(ctx, events.CommentAdded, task.ProjectID, id.UserID, comment.ID, map[string]any{"owner": "task", "taskId": taskID})
	return task.Comments, nil
}

func (s *Service) DeleteTaskComment(ctx context.Context, taskID, commentID string, id Identity) (comments store.Comments, err error) {
	defer s.observe("comment.delete_task", time.Now(), &err)

	var (
		task    store.Task
		removed store.EmbeddedComment
	)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		task, err = s.taskFor(ctx, q, taskID, id, rbac.ActionRead, true)
		if err != nil {
			return err
		}
		comment, ok := findComment(task.Comments, commentID)
		if !ok {
			return notFound("Comment not found.")
		}
		if err := canDeleteComment(ctx, q, task.ProjectID, comment.UserID, id.UserID); err != nil {
			return err
		}
		task.Comments, removed, _ = spliceComment(task.Comments, commentID)
		return q.SaveTask(ctx, task)
	})
	if err != nil {
		return nil, s.fail(ctx, "comment.delete_task", err, deletionFailed("Something went wrong, please try again later."),
			zap.String("taskId", taskID), zap.String("commentId", commentID))
	}

	s.dropCommentFiles(ctx, removed.Files)
	s.publish(ctx, events.CommentDeleted, task.ProjectID, id.UserID, commentID, map[string]any{"owner": "task", "taskId": taskID})
	return task.Comments, nil
}

func (s *Service) AddTransactionComment(ctx context.Context, transactionID string, id Identity, in CommentInput) (comments store.Comments, err error) {
	defer s.observe("comment.add_transaction", time.Now(), &err)

	fallback := creationFailed("Something went wrong, could not create comment.")
	trx, err := s.transactionFor(ctx, s.store, transactionID, id, rbac.ActionComment, false)
	if err != nil {
		return nil, s.fail(ctx, "comment.add_transaction", err, fallback)
	}
	comment, err := s.buildComment(ctx, trx.ProjectID, id, in)
	if err != nil {
		return nil, s.fail(ctx, "comment.add_transaction", err, fallback)
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = lockTransaction(ctx, q, transactionID)
		if err != nil {
			return err
		}
		trx.Comments = append(store.Comments{comment}, trx.Comments...)
		return q.SaveTransaction(ctx, trx)
	})
	if err != nil {
		s.discardFiles(ctx, comment.Files)
		return nil, s.fail(ctx, "comment.add_transaction", err, fallback, zap.String("transactionId", transactionID))
	}

	s.publish(ctx, events.CommentAdded, trx.ProjectID, id.UserID, comment.ID, map[string]any{"owner": "transaction", "transactionId": transactionID})
	return trx.Comments, nil
}

func (s *Service) DeleteTransactionComment(ctx context.Context, transactionID, commentID string, id Identity) (comments store.Comments, err error) {
	defer s.observe("comment.delete_transaction", time.Now(), &err)

	var (
		trx     store.Transaction
		removed store.EmbeddedComment
	)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = s.transactionFor(ctx, q, transactionID, id, rbac.ActionRead, true)
		if err != nil {
			return err
		}
		comment, ok := findComment(trx.Comments, commentID)
		if !ok {
			return notFound("Comment not found.")
		}
		if err := canDeleteComment(ctx, q, trx.ProjectID, comment.UserID, id.UserID); err != nil {
			return err
		}
		trx.Comments, removed, _ = spliceComment(trx.Comments, commentID)
		return q.SaveTransaction(ctx, trx)
	})
	if err != nil {
		return nil, s.fail(ctx, "comment.delete_transaction", err, deletionFailed("Something went wrong, please try again later."),
			zap.String("transactionId", transactionID), zap.String("commentId", commentID))
	}

	s.dropCommentFiles(ctx, removed.Files)
	s.publish(ctx, events.CommentDeleted, trx.ProjectID, id.UserID, commentID, map[string]any{"owner": "transaction", "transactionId": transactionID})
	return trx.Comments, nil
}

func (s *Service) dropCommentFiles(ctx context.Context, files store.Files) {
	for _, file := range files {
		if err := s.deleteStoredFile(ctx, file.URL); err != nil {
			s.logger.Warn(ctx, "comment file left in storage", zap.String("url", file.URL))
		}
	}
}
