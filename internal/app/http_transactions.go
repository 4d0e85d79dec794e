package app

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *HTTPServer) registerTransactionRoutes(g *echo.Group) {
	trxs := g.Group("/transactions")
	trxs.GET("", s.handleListUserTransactions)
	trxs.GET("/:id", s.handleGetTransaction)
	trxs.PATCH("/:id", s.handleUpdateTransaction)
	trxs.DELETE("/:id", s.handleDeleteTransaction)
	trxs.POST("/:id/comments", s.handleAddTransactionComment)
	trxs.DELETE("/:id/comments/:cid", s.handleDeleteTransactionComment)
	trxs.POST("/:id/files", s.handleAddTransactionFiles)
	trxs.DELETE("/:id/files/:fid", s.handleRemoveTransactionFile)
}

func (s *HTTPServer) handleListUserTransactions(c echo.Context) error {
	trxs, err := s.service.ListUserTransactions(c.Request().Context(), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transactions": trxs})
}

func (s *HTTPServer) handleGetTransaction(c echo.Context) error {
	trx, err := s.service.GetTransaction(c.Request().Context(), c.Param("id"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transaction": trx})
}

func (s *HTTPServer) handleUpdateTransaction(c echo.Context) error {
	var body TransactionChanges
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	trx, err := s.service.UpdateTransaction(c.Request().Context(), c.Param("id"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transaction": trx})
}

func (s *HTTPServer) handleDeleteTransaction(c echo.Context) error {
	if err := s.service.DeleteTransaction(c.Request().Context(), c.Param("id"), identityFrom(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, message("Deleted transaction."))
}

func (s *HTTPServer) handleAddTransactionComment(c echo.Context) error {
	var body CommentInput
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	comments, err := s.service.AddTransactionComment(c.Request().Context(), c.Param("id"), identityFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleDeleteTransactionComment(c echo.Context) error {
	comments, err := s.service.DeleteTransactionComment(c.Request().Context(), c.Param("id"), c.Param("cid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleAddTransactionFiles(c echo.Context) error {
	var body struct {
		Files []FileUpload `json:"files"`
	}
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	trx, err := s.service.AddTransactionFiles(c.Request().Context(), c.Param("id"), identityFrom(c), body.Files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transaction": trx})
}

func (s *HTTPServer) handleRemoveTransactionFile(c echo.Context) error {
	trx, err := s.service.RemoveTransactionFile(c.Request().Context(), c.Param("id"), c.Param("fid"), identityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"transaction": trx})
}
