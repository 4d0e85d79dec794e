package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/store"
)

// activeRole returns the caller's role from an active membership row, or "".
func activeRole(ctx context.Context, q store.Querier, projectID, userID string) (rbac.Role, error) {
	member, err := q.GetMembership(ctx, projectID, userID)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get membership: %w", err)
	}
	if rbac.Status(member.Status) != rbac.StatusActive {
		return "", nil
	}
	return rbac.Normalize(member.Role), nil
}

// effectiveRole falls back to the project document when no active row exists:
// the creator keeps admin rights and sharedWith users read and comment.
func effectiveRole(ctx context.Context, q store.Querier, project store.Project, userID string) (rbac.Role, error) {
	role, err := activeRole(ctx, q, project.ID, userID)
	if err != nil || role != "" {
		return role, err
	}
	switch {
	case project.Creator == userID:
		return rbac.RoleAdmin, nil
	case project.SharedWith.Contains(userID):
		return rbac.RoleGuest, nil
	default:
		return "", nil
	}
}

func authorize(ctx context.Context, q store.Querier, project store.Project, userID string, action rbac.Action) error {
	role, err := effectiveRole(ctx, q, project, userID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return forbidden("")
	}
	return nil
}

// GetRole reports the caller's active role on a project, or "" when none.
func (s *Service) GetRole(ctx context.Context, projectID, userID string) (string, error) {
	role, err := activeRole(ctx, s.store, projectID, userID)
	return string(role), err
}

// AssertAdmin returns Forbidden unless userID holds an active admin membership.
func (s *Service) AssertAdmin(ctx context.Context, projectID, userID string) error {
	role, err := activeRole(ctx, s.store, projectID, userID)
	if err != nil {
		return err
	}
	if role != rbac.RoleAdmin {
		return forbidden("")
	}
	return nil
}

func loadProject(ctx context.Context, q store.Querier, projectID string, lock bool) (store.Project, error) {
	var (
		project store.Project
		err     error
	)
	if lock {
		project, err = q.LockProject(ctx, projectID)
	} else {
		project, err = q.GetProject(ctx, projectID)
	}
	if isNoRows(err) {
		return store.Project{}, notFound("Could not find project for the provided id.")
	}
	if err != nil {
		return store.Project{}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return project, nil
}

// projectFor loads the project and checks that the caller may perform action on it.
func projectFor(ctx context.Context, q store.Querier, projectID string, id Identity, action rbac.Action, lock bool) (store.Project, error) {
	project, err := loadProject(ctx, q, projectID, lock)
	if err != nil {
		return store.Project{}, err
	}
	if err := authorize(ctx, q, project, id.UserID, action); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) ListMembers(ctx context.Context, projectID string, id Identity) (members []store.MemberView, err error) {
	defer s.observe("member.list", time.Now(), &err)

	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionRead, false); err != nil {
		return nil, s.fail(ctx, "member.list", err, serverError("Fetching project members failed, please try again later."))
	}
	members, err = s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, s.fail(ctx, "member.list", err, serverError("Fetching project members failed, please try again later."))
	}
	if len(members) == 0 {
		return nil, notFound("Could not find members for the provided project id.")
	}
	return members, nil
}

// RemoveMember deletes every membership row of userID and pulls the user out of
// sharedWith in one transaction. Admins may remove anyone but the creator;
// members may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, projectID string, id Identity, userID string) (err error) {
	defer s.observe("member.remove", time.Now(), &err)

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		project, err := loadProject(ctx, q, projectID, true)
		if err != nil {
			return err
		}
		if userID != id.UserID {
			if err := authorize(ctx, q, project, id.UserID, rbac.ActionAdmin); err != nil {
				return err
			}
		}
		if project.Creator == userID {
			return conflict("The project creator cannot be removed.")
		}

		removed, err := q.DeleteMember(ctx, projectID, userID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return notFound("Could not find project member for the provided id.")
		}
		if project.SharedWith.Contains(userID) {
			if err := q.DetachRef(ctx, store.ProjectSharedWith, projectID, userID); err != nil {
				return fmt.Errorf("detach shared user: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, "member.remove", err, deletionFailed("Something went wrong, could not remove project member."),
			zap.String("projectId", projectID), zap.String("memberId", userID))
	}

	s.publish(ctx, events.MemberRemoved, projectID, id.UserID, userID, nil)
	return nil
}
