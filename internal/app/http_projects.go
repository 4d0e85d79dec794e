package app

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *HTTPServer) registerProjectRoutes(g *echo.Group) {
	projects := g.Group("/projects")
	projects.GET("", s.handleListProjects)
	projects.POST("", s.handleCreateProject)
	projects.GET("/:pid", s.handleGetProject)
	projects.PATCH("/:pid", s.handleUpdateProject)
	projects.DELETE("/:pid", s.handleDeleteProject)

	projects.POST("/:pid/subprojects", s.handleCreateSubProject)
	projects.POST("/:pid/move", s.handleMoveProject)
	projects.POST("/:pid/invitations", s.handleSendInvitations)
	projects.POST("/:pid/join", s.handleJoinProject)

	projects.GET("/:pid/members", s.handleListMembers)
	projects.DELETE("/:pid/members/:uid", s.handleRemoveMember)

	projects.GET("/:pid/comments", s.handleListProjectComments)
	projects.POST("/:pid/comments", s.handleAddProjectComment)
	projects.DELETE("/:pid/comments/:cid", s.handleDeleteProjectComment)

	projects.POST("/:pid/files", s.handleAddProjectFiles)
	projects.DELETE("/:pid/files/:fid", s.handleRemoveProjectFile)

	projects.GET("/:pid/tasks", s.handleListProjectTasks)
	projects.POST("/:pid/tasks", s.handleCreateTask)
	projects.GET("/:pid/transactions", s.handleListProjectTransactions)
	projects.POST("/:pid/transactions", s.handleCreateTransaction)
}

func (s *HTTPServer) handleListProjects(c echo.Context) error {
	projects, err := s.service.ListProjects(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"projects": projects})
}

func (s *HTTPServer) handleCreateProject(c echo.Context) error {
	var body ProjectInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	project, err := s.service.CreateProject(c.Request().Context(), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"project": project})
}

func (s *HTTPServer) handleGetProject(c echo.Context) error {
	project, err := s.service.GetProject(c.Request().Context(), c.Param("pid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleUpdateProject(c echo.Context) error {
	var body ProjectInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	project, err := s.service.UpdateProject(c.Request().Context(), c.Param("pid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleDeleteProject(c echo.Context) error {
	if err := s.service.DeleteProject(c.Request().Context(), c.Param("pid"), identityFrom(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message("Deleted project."))
}

func (s *HTTPServer) handleCreateSubProject(c echo.Context) error {
	var body ProjectInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	project, err := s.service.CreateSubProject(c.Request().Context(), c.Param("pid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"project": project})
}

func (s *HTTPServer) handleMoveProject(c echo.Context) error {
	var body struct {
		ToProjectID string `json:"toProjectId"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	project, err := s.service.MoveProject(c.Request().Context(), c.Param("pid"), body.ToProjectID, identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleSendInvitations(c echo.Context) error {
	var body struct {
		Emails []string `json:"emails"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	project, err := s.service.SendInvitations(c.Request().Context(), c.Param("pid"), identityFrom(c), body.Emails)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleJoinProject(c echo.Context) error {
	var body struct {
		InvitationID string `json:"invitationId"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.InvitationID == "" {
		return validation("invitationId is required", nil)
	}
	project, err := s.service.JoinProject(c.Request().Context(), c.Param("pid"), body.InvitationID, identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleListMembers(c echo.Context) error {
	members, err := s.service.ListMembers(c.Request().Context(), c.Param("pid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleRemoveMember(c echo.Context) error {
	userID, err := pathParam(c, "uid")
	if err != nil {
		return err
	}
	if err := s.service.RemoveMember(c.Request().Context(), c.Param("pid"), identityFrom(c), userID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message("Removed member."))
}

func (s *HTTPServer) handleListProjectComments(c echo.Context) error {
	comments, err := s.service.ListProjectComments(c.Request().Context(), c.Param("pid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleAddProjectComment(c echo.Context) error {
	var body CommentInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	comments, err := s.service.AddProjectComment(c.Request().Context(), c.Param("pid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleDeleteProjectComment(c echo.Context) error {
	if err := s.service.DeleteProjectComment(c.Request().Context(), c.Param("pid"), c.Param("cid"), identityFrom(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message("Deleted comment."))
}

func (s *HTTPServer) handleAddProjectFiles(c echo.Context) error {
	var body struct {
		Files []FileUpload `json:"files"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	files, err := s.service.AddProjectFiles(c.Request().Context(), c.Param("pid"), identityFrom(c), body.Files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"files": files})
}

func (s *HTTPServer) handleRemoveProjectFile(c echo.Context) error {
	files, err := s.service.RemoveProjectFile(c.Request().Context(), c.Param("pid"), c.Param("fid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"files": files})
}

func (s *HTTPServer) handleListProjectTasks(c echo.Context) error {
	tasks, err := s.service.ListProjectTasks(c.Request().Context(), c.Param("pid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleCreateTask(c echo.Context) error {
	var body TaskInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	task, err := s.service.CreateTask(c.Request().Context(), c.Param("pid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"task": task})
}

func (s *HTTPServer) handleListProjectTransactions(c echo.Context) error {
	trxs, err := s.service.ListProjectTransactions(c.Request().Context(), c.Param("pid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transactions": trxs})
}

func (s *HTTPServer) handleCreateTransaction(c echo.Context) error {
	var body TransactionInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	trx, err := s.service.CreateTransaction(c.Request().Context(), c.Param("pid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"transaction": trx})
}
