package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/store"
)

// RootTarget moves a project to the top level of the caller's list.
const RootTarget = "root"

const maxHierarchyDepth = 256

// ancestors returns the parent chain of projectID, nearest first.
func ancestors(ctx context.Context, q store.Querier, projectID string) ([]string, error) {
	var chain []string
	seen := map[string]struct{}{projectID: {}}
	current := projectID
	for depth := 0; depth < maxHierarchyDepth; depth++ {
		project, err := q.GetProject(ctx, current)
		if isNoRows(err) {
			return chain, nil
		}
		if err != nil {
			return nil, fmt.Errorf("walk hierarchy at %s: %w", current, err)
		}
		parent := project.Parent()
		if parent == "" {
			return chain, nil
		}
		if _, ok := seen[parent]; ok {
			return nil, fmt.Errorf("hierarchy cycle at %s", parent)
		}
		seen[parent] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return nil, fmt.Errorf("hierarchy deeper than %d levels at %s", maxHierarchyDepth, projectID)
}

func containsID(ids []string, id string) bool {
	for _, item := range ids {
		if item == id {
			return true
		}
	}
	return false
}

// detachFromLocation removes the project from wherever it currently hangs:
// its parent's subProjects, or every user's top-level list.
func detachFromLocation(ctx context.Context, q store.Querier, project store.Project) error {
	if parent := project.Parent(); parent != "" {
		return detachIgnoringMissing(ctx, q, store.ProjectSubProjects, parent, project.ID)
	}
	_, err := q.DetachRefAll(ctx, store.UserProjects, project.ID)
	return err
}

// MoveProject re-parents a project inside one transaction. An empty target or
// "root" moves it to the caller's top-level list; moving to the current parent
// changes nothing.
func (s *Service) MoveProject(ctx context.Context, projectID, toProjectID string, id Identity) (project store.Project, err error) {
	defer s.observe("project.move", time.Now(), &err)

	target := strings.TrimSpace(toProjectID)
	if target == RootTarget {
		target = ""
	}

	var (
		moved bool
		from  string
	)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = projectFor(ctx, q, projectID, id, rbac.ActionAdmin, true)
		if err != nil {
			return err
		}
		from = project.Parent()

		if target == "" {
			if from != "" {
				if err := detachFromLocation(ctx, q, project); err != nil {
					return err
				}
				if err := q.SetProjectParent(ctx, project.ID, nil); err != nil {
					return err
				}
				project.ParentProject = nil
				moved = true
			}
			return q.AttachRef(ctx, store.UserProjects, id.UserID, project.ID, store.Append)
		}

		if target == from {
			return nil
		}
		if target == project.ID {
			return validation("A project cannot be moved into itself.", nil)
		}
		if _, err := projectFor(ctx, q, target, id, rbac.ActionAdmin, true); err != nil {
			return err
		}
		chain, err := ancestors(ctx, q, target)
		if err != nil {
			return err
		}
		if containsID(chain, project.ID) {
			return validation("A project cannot be moved into one of its sub-projects.", nil)
		}

		if err := detachFromLocation(ctx, q, project); err != nil {
			return err
		}
		if err := q.AttachRef(ctx, store.ProjectSubProjects, target, project.ID, store.Append); err != nil {
			return err
		}
		dest := target
		if err := q.SetProjectParent(ctx, project.ID, &dest); err != nil {
			return err
		}
		project.ParentProject = &dest

		// Sub-projects travel with the moved project.
		for _, childID := range project.SubProjects {
			self := project.ID
			if err := q.SetProjectParent(ctx, childID, &self); err != nil && !isNoRows(err) {
				return err
			}
		}
		moved = true
		return nil
	})
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.move", err, updateFailed("Something went wrong, could not move project."),
			zap.String("projectId", projectID), zap.String("target", toProjectID))
	}

	if moved {
		s.publish(ctx, events.ProjectMoved, project.ID, id.UserID, project.ID, map[string]any{"from": from, "to": project.Parent()})
	}
	return project, nil
}

// retargetSubProjects replaces project.SubProjects with ids. Newly listed
// projects are detached from their old location and re-parented here; dropped
// ones become top-level entries of the caller. The caller persists project.
func (s *Service) retargetSubProjects(ctx context.Context, q store.Querier, project *store.Project, ids []string, id Identity) error {
	next := make(store.StringList, 0, len(ids))
	for _, childID := range ids {
		childID = strings.TrimSpace(childID)
		if childID == "" || containsID(next, childID) {
			continue
		}
		next = append(next, childID)
	}
	if containsID(next, project.ID) {
		return validation("A project cannot be its own sub-project.", nil)
	}
	chain, err := ancestors(ctx, q, project.ID)
	if err != nil {
		return err
	}
	for _, childID := range next {
		if containsID(chain, childID) {
			return validation("A parent project cannot become a sub-project.", map[string]any{"projectId": childID})
		}
	}

	self := project.ID
	for _, childID := range next {
		if project.SubProjects.Contains(childID) {
			continue
		}
		child, err := projectFor(ctx, q, childID, id, rbac.ActionAdmin, true)
		if err != nil {
			return err
		}
		if err := detachFromLocation(ctx, q, child); err != nil {
			return err
		}
		if err := q.SetProjectParent(ctx, childID, &self); err != nil {
			return err
		}
	}
	for _, childID := range project.SubProjects {
		if next.Contains(childID) {
			continue
		}
		if err := q.SetProjectParent(ctx, childID, nil); err != nil {
			if isNoRows(err) {
				continue
			}
			return err
		}
		if err := q.AttachRef(ctx, store.UserProjects, id.UserID, childID, store.Append); err != nil {
			return err
		}
	}
	project.SubProjects = next
	return nil
}
