package app

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *HTTPServer) registerTaskRoutes(g *echo.Group) {
	tasks := g.Group("/tasks")
	tasks.GET("", s.handleListUserTasks)
	tasks.GET("/:tid", s.handleGetTask)
	tasks.PATCH("/:tid", s.handleUpdateTask)
	tasks.DELETE("/:tid", s.handleDeleteTask)
	tasks.POST("/:tid/comments", s.handleAddTaskComment)
	tasks.DELETE("/:tid/comments/:cid", s.handleDeleteTaskComment)
	tasks.POST("/:tid/files", s.handleAddTaskFiles)
	tasks.DELETE("/:tid/files/:fid", s.handleRemoveTaskFile)
}

func (s *HTTPServer) handleListUserTasks(c echo.Context) error {
	tasks, err := s.service.ListUserTasks(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleGetTask(c echo.Context) error {
	task, err := s.service.GetTask(c.Request().Context(), c.Param("tid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleUpdateTask(c echo.Context) error {
	var body TaskChanges
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	task, err := s.service.UpdateTask(c.Request().Context(), c.Param("tid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleDeleteTask(c echo.Context) error {
	if err := s.service.DeleteTask(c.Request().Context(), c.Param("tid"), identityFrom(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message("Deleted task."))
}

func (s *HTTPServer) handleAddTaskComment(c echo.Context) error {
	var body CommentInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	comments, err := s.service.AddTaskComment(c.Request().Context(), c.Param("tid"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleDeleteTaskComment(c echo.Context) error {
	comments, err := s.service.DeleteTaskComment(c.Request().Context(), c.Param("tid"), c.Param("cid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleAddTaskFiles(c echo.Context) error {
	var body struct {
		Files []FileUpload `json:"files"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	task, err := s.service.AddTaskFiles(c.Request().Context(), c.Param("tid"), identityFrom(c), body.Files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleRemoveTaskFile(c echo.Context) error {
	task, err := s.service.RemoveTaskFile(c.Request().Context(), c.Param("tid"), c.Param("fid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"task": task})
}
