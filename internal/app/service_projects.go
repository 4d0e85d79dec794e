package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/search"
	"proin/api/internal/storage"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

// ProjectInput is used for create and partial update. A nil field is left
// unchanged; an explicit empty description clears it.
type ProjectInput struct {
	ProjectName *string     `json:"projectName"`
	Description *string     `json:"description"`
	Logo        *FileUpload `json:"logo"`
	SubProjects *[]string   `json:"subProjects"`
}

func (s *Service) newProject(creator string, in ProjectInput, parent *string) store.Project {
	now := s.now()
	project := store.Project{
		ID:            util.NewID("prj"),
		Creator:       creator,
		ParentProject: parent,
		SubProjects:   store.StringList{},
		SharedWith:    store.StringList{},
		Invitations:   store.Invitations{},
		Files:         store.Files{},
		Tasks:         store.StringList{},
		Transactions:  store.StringList{},
		Comments:      store.StringList{},
		Classifiers:   store.DefaultClassifiers(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.ProjectName != nil {
		project.ProjectName = strings.TrimSpace(*in.ProjectName)
	}
	if in.Description != nil {
		project.Description = *in.Description
	}
	return project
}

func adminMember(projectID, userID string, status rbac.Status) store.Member {
	return store.Member{
		ID:        util.NewID("mem"),
		ProjectID: projectID,
		UserID:    userID,
		Role:      string(rbac.RoleAdmin),
		Status:    string(status),
	}
}

func projectRecord(project store.Project) search.ProjectRecord {
	return search.ProjectRecord{
		ID:          project.ID,
		ProjectID:   project.ID,
		Name:        project.ProjectName,
		Description: project.Description,
	}
}

// CreateProject inserts the project, the creator's admin membership and the
// creator's list entry in one transaction.
func (s *Service) CreateProject(ctx context.Context, id Identity, in ProjectInput) (project store.Project, err error) {
	defer s.observe("project.create", time.Now(), &err)

	project = s.newProject(id.UserID, in, nil)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := q.GetUserByID(ctx, id.UserID); err != nil {
			if isNoRows(err) {
				return notFound("Could not find user for provided id.")
			}
			return err
		}
		if err := q.CreateProject(ctx, project); err != nil {
			return err
		}
		if err := q.CreateMember(ctx, adminMember(project.ID, id.UserID, rbac.StatusActive)); err != nil {
			return err
		}
		return q.AttachRef(ctx, store.UserProjects, id.UserID, project.ID, store.Append)
	})
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.create", err, creationFailed("Creating project failed, please try again."))
	}

	s.search.IndexProject(projectRecord(project))
	s.publish(ctx, events.ProjectCreated, project.ID, id.UserID, project.ID, nil)
	return project, nil
}

// CreateSubProject requires admin on the parent. The child, its admin
// membership and the parent's subProjects entry are written together.
func (s *Service) CreateSubProject(ctx context.Context, parentID string, id Identity, in ProjectInput) (project store.Project, err error) {
	defer s.observe("project.create_sub", time.Now(), &err)

	parent := parentID
	project = s.newProject(id.UserID, in, &parent)
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := projectFor(ctx, q, parentID, id, rbac.ActionAdmin, true); err != nil {
			return err
		}
		if err := q.CreateProject(ctx, project); err != nil {
			return err
		}
		if err := q.CreateMember(ctx, adminMember(project.ID, id.UserID, rbac.StatusActive)); err != nil {
			return err
		}
		return q.AttachRef(ctx, store.ProjectSubProjects, parentID, project.ID, store.Append)
	})
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.create_sub", err, creationFailed("Creating project failed, please try again."),
			zap.String("parentId", parentID))
	}

	s.search.IndexProject(projectRecord(project))
	s.publish(ctx, events.ProjectCreated, project.ID, id.UserID, project.ID, map[string]any{"parentProject": parentID})
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string, id Identity) (project store.Project, err error) {
	defer s.observe("project.get", time.Now(), &err)

	project, err = projectFor(ctx, s.store, projectID, id, rbac.ActionRead, false)
	if err != nil {
		return store.Project{}, s.fail(ctx, "project.get", err, serverError("Something went wrong, could not find a project."))
	}
	return project, nil
}

// ListProjects returns the caller's top-level projects followed by projects
// shared with the caller, without duplicates.
func (s *Service) ListProjects(ctx context.Context, id Identity) (projects []store.Project, err error) {
	defer s.observe("project.list", time.Now(), &err)

	fallback := serverError("Fetching projects failed, please try again later.")
	user, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "project.list", err, fallback)
	}
	own, err := s.store.ListProjectsByIDs(ctx, user.Projects)
	if err != nil {
		return nil, s.fail(ctx, "project.list", err, fallback)
	}
	shared, err := s.store.ListProjectsSharedWith(ctx, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "project.list", err, fallback)
	}

	seen := make(map[string]struct{}, len(own)+len(shared))
	projects = make([]store.Project, 0, len(own)+len(shared))
	for _, list := range [][]store.Project{own, shared} {
		for _, project := range list {
			if _, ok := seen[project.ID]; ok {
				continue
			}
			seen[project.ID] = struct{}{}
			projects = append(projects, project)
		}
	}
	return projects, nil
}

// UpdateProject applies a partial update. The logo is uploaded before the
// transaction; the previous logo is removed best-effort after commit.
func (s *Service) UpdateProject(ctx context.Context, projectID string, id Identity, in ProjectInput) (project store.Project, err error) {
	defer s.observe("project.update", time.Now(), &err)

	fallback := updateFailed("Something went wrong, could not update project.")
	var logo *preparedUpload
	if in.Logo != nil {
		p, err := prepareUpload(*in.Logo)
		if err != nil {
			return store.Project{}, err
		}
		logo = &p
	}
	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionAdmin, false); err != nil {
		return store.Project{}, s.fail(ctx, "project.update", err, fallback)
	}

	var newLogo store.File
	if logo != nil {
		newLogo, err = s.putFile(ctx, projectID, *logo)
		if err != nil {
			s.logger.Error(ctx, "logo upload failed", zap.String("projectId", projectID), zap.Error(err))
			return store.Project{}, uploadFailed("Uploading the logo failed, please try again.")
		}
	}

	var previousLogo string
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = projectFor(ctx, q, projectID, id, rbac.ActionAdmin, true)
		if err != nil {
			return err
		}
		if in.ProjectName != nil {
			project.ProjectName = strings.TrimSpace(*in.ProjectName)
		}
		if in.Description != nil {
			project.Description = *in.Description
		}
		if logo != nil {
			previousLogo = project.LogoURL
			project.LogoURL = newLogo.URL
		}
		if in.SubProjects != nil {
			if err := s.retargetSubProjects(ctx, q, &project, *in.SubProjects, id); err != nil {
				return err
			}
		}
		return q.SaveProject(ctx, project)
	})
	if err != nil {
		if logo != nil {
			s.discardFiles(ctx, store.Files{newLogo})
		}
		return store.Project{}, s.fail(ctx, "project.update", err, fallback, zap.String("projectId", projectID))
	}

	if previousLogo != "" && previousLogo != project.LogoURL {
		if err := s.deleteStoredFile(ctx, previousLogo); err != nil {
			s.logger.Warn(ctx, "previous logo left in storage", zap.String("projectId", projectID), zap.String("url", previousLogo))
		}
	}
	s.search.IndexProject(projectRecord(project))
	s.publish(ctx, events.ProjectUpdated, project.ID, id.UserID, project.ID, nil)
	return project, nil
}

// DeleteProject is allowed to the creator only. Inside one transaction the
// project leaves its parent, its direct sub-projects become top-level entries
// of the creator, the document is deleted and every user's list drops it.
// Membership rows and the logo are cleaned up after commit.
func (s *Service) DeleteProject(ctx context.Context, projectID string, id Identity) (err error) {
	defer s.observe("project.delete", time.Now(), &err)

	var project store.Project
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		project, err = loadProject(ctx, q, projectID, true)
		if err != nil {
			return err
		}
		if project.Creator != id.UserID {
			return forbidden("You are not allowed to delete this project.")
		}
		if parent := project.Parent(); parent != "" {
			if err := detachIgnoringMissing(ctx, q, store.ProjectSubProjects, parent, project.ID); err != nil {
				return err
			}
		}
		for _, childID := range project.SubProjects {
			if err := q.SetProjectParent(ctx, childID, nil); err != nil {
				if isNoRows(err) {
					continue
				}
				return err
			}
			if err := q.AttachRef(ctx, store.UserProjects, project.Creator, childID, store.Append); err != nil {
				return err
			}
		}
		if err := q.DeleteProject(ctx, project.ID); err != nil {
			return err
		}
		_, err = q.DetachRefAll(ctx, store.UserProjects, project.ID)
		return err
	})
	if err != nil {
		return s.fail(ctx, "project.delete", err, deletionFailed("Something went wrong, could not delete project."),
			zap.String("projectId", projectID))
	}

	if err := s.store.DeleteProjectMembers(ctx, project.ID); err != nil {
		s.logger.Error(ctx, "project deleted but membership rows remain",
			zap.String("projectId", project.ID), zap.Error(err))
	}
	s.search.DeleteProject(project.ID)
	s.publish(ctx, events.ProjectDeleted, project.ID, id.UserID, project.ID, nil)

	for _, file := range project.Files {
		if err := s.deleteStoredFile(ctx, file.URL); err != nil {
			s.logger.Warn(ctx, "project file left in storage", zap.String("projectId", project.ID), zap.String("url", file.URL))
		}
	}
	if project.LogoURL != "" {
		if err := s.storage.Delete(ctx, project.LogoURL); err != nil &&
			!errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrDisabled) {
			s.logger.Error(ctx, "project logo delete failed",
				zap.String("projectId", project.ID), zap.String("url", project.LogoURL), zap.Error(err))
			return storageFailed("The project was deleted, but its logo could not be removed from storage.")
		}
	}
	return nil
}
