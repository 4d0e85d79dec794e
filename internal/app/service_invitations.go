package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proin/api/internal/authpw"
	"proin/api/internal/email"
	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/store"
)

func (s *Service) joinURL(projectID, invitationID string) string {
	base := strings.TrimRight(s.cfg.Server.FrontendURL, "/")
	return fmt.Sprintf("%s/projects/%s/join/%s", base, projectID, invitationID)
}

func normalizeRecipients(emails []string) ([]string, error) {
	var (
		valid   []string
		invalid []string
	)
	seen := make(map[string]struct{}, len(emails))
	for _, raw := range emails {
		address, err := authpw.ValidateEmail(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		valid = append(valid, address)
	}
	if len(invalid) > 0 {
		return nil, validation("Invalid email addresses.", map[string]any{"emails": invalid})
	}
	if len(valid) == 0 {
		return nil, validation("At least one email is required.", nil)
	}
	return valid, nil
}

// SendInvitations handles each recipient on its own: a failure stops the batch
// and recipients processed before it stay invited.
func (s *Service) SendInvitations(ctx context.Context, projectID string, id Identity, emails []string) (project store.Project, err error) {
	defer s.observe("project.invite", time.Now(), &err)

	recipients, err := normalizeRecipients(emails)
	if err != nil {
		return store.Project{}, err
	}
	fallback := updateFailed("Sending invitations failed, please try again.")
	project, err = projectFor(ctx, s.store, projectID, id, rbac.ActionInvite, false)
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.invite", err, fallback)
	}
	inviter, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.invite", err, fallback)
	}

	for _, address := range recipients {
		if err := s.inviteOne(ctx, project, inviter, address); err != nil {
			return store.Project{}, s.fail(ctx, "project.invite", err, fallback,
				zap.String("projectId", projectID), zap.String("email", address))
		}
	}

	project, err = loadProject(ctx, s.store, projectID, false)
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.invite", err, fallback)
	}
	return project, nil
}

func (s *Service) inviteOne(ctx context.Context, project store.Project, inviter store.User, address string) error {
	var invitee *store.User
	user, err := s.store.GetUserByEmail(ctx, address)
	switch {
	case err == nil:
		invitee = &user
	case !isNoRows(err):
		return fmt.Errorf("lookup invitee: %w", err)
	}

	if invitee != nil {
		role, err := activeRole(ctx, s.store, project.ID, invitee.ID)
		if err != nil {
			return err
		}
		if role != "" {
			s.logger.Debug(ctx, "invitee is already a member", zap.String("projectId", project.ID), zap.String("userId", invitee.ID))
			return nil
		}
	}

	invitationID := uuid.NewString()
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		locked, err := loadProject(ctx, q, project.ID, true)
		if err != nil {
			return err
		}
		locked.Invitations = append(locked.Invitations, store.Invitation{ID: invitationID, Email: address})
		if err := q.SaveProject(ctx, locked); err != nil {
			return err
		}
		if invitee == nil {
			return nil
		}
		_, err = q.GetMembership(ctx, project.ID, invitee.ID)
		if isNoRows(err) {
			return q.CreateMember(ctx, adminMember(project.ID, invitee.ID, rbac.StatusPending))
		}
		return err
	})
	if err != nil {
		return err
	}

	msg, err := email.InvitationMessage(address, project.ProjectName, inviter.Name, s.joinURL(project.ID, invitationID))
	if err != nil {
		s.logger.Error(ctx, "render invitation email", zap.String("invitationId", invitationID), zap.Error(err))
	} else {
		s.notifier.Notify(ctx, "invitation", msg)
	}
	s.publish(ctx, events.ProjectInvited, project.ID, inviter.ID, invitationID, map[string]any{"email": address})
	return nil
}

// JoinProject redeems an invitation. The caller joins sharedWith, the
// invitation is consumed and the membership row becomes active.
func (s *Service) JoinProject(ctx context.Context, projectID, invitationID string, id Identity) (project store.Project, err error) {
	defer s.observe("project.join", time.Now(), &err)

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = loadProject(ctx, q, projectID, true)
		if err != nil {
			return err
		}
		role, err := activeRole(ctx, q, projectID, id.UserID)
		if err != nil {
			return err
		}
		if role != "" {
			return conflict("You are already a member of this project.")
		}

		redeemed, found := store.Invitation{}, false
		for _, invitation := range project.Invitations {
			if invitation.ID == invitationID {
				redeemed, found = invitation, true
				break
			}
		}
		if !found {
			return notFound("Could not find invitation for the provided id.")
		}
		joiner, err := s.loadUser(ctx, q, id.UserID)
		if err != nil {
			return err
		}

		// Every invitation addressed to the joiner is spent, not only the redeemed one.
		remaining := make(store.Invitations, 0, len(project.Invitations))
		for _, invitation := range project.Invitations {
			if invitation.ID == redeemed.ID || strings.EqualFold(invitation.Email, joiner.Email) {
				continue
			}
			remaining = append(remaining, invitation)
		}
		project.Invitations = remaining
		if !project.SharedWith.Contains(id.UserID) {
			project.SharedWith = append(project.SharedWith, id.UserID)
		}
		if err := q.SaveProject(ctx, project); err != nil {
			return err
		}

		member, err := q.GetMembership(ctx, projectID, id.UserID)
		switch {
		case err == nil && rbac.Status(member.Status) == rbac.StatusPending:
			err = q.UpdateMemberStatus(ctx, member.ID, string(rbac.StatusActive))
		case err == nil || isNoRows(err):
			err = q.CreateMember(ctx, adminMember(projectID, id.UserID, rbac.StatusActive))
		}
		if err != nil {
			return err
		}
		_, err = q.DeletePendingMembers(ctx, projectID, id.UserID)
		return err
	})
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.join", err, updateFailed("Something went wrong, could not join project."),
			zap.String("projectId", projectID), zap.String("invitationId", invitationID))
	}

	s.publish(ctx, events.ProjectJoined, projectID, id.UserID, invitationID, nil)
	return project, nil
}
