package search

import (
	"context"

	"go.uber.org/zap"

	"proin/api/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
// A nil *Service is valid and turns every call into a no-op.
type Service struct {
	meili  *Meili
	pg     *PgSearch
	logger *logging.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgSearch, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{meili: meili, pg: pg, logger: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	empty := Response{Results: []Result{}, Total: 0, Query: q.Text}
	if s == nil || len(q.ProjectIDs) == 0 {
		return empty
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: scoped(results, q.ProjectIDs), Total: total, Query: q.Text}
		}
		s.logger.Warn(ctx, "meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.pg == nil {
		return empty
	}
	results, total, err := s.pg.SearchContext(ctx, q)
	if err != nil {
		s.logger.Error(ctx, "postgres search failed", zap.Error(err))
		return empty
	}
	return Response{Results: scoped(results, q.ProjectIDs), Total: total, Query: q.Text}
}

func (s *Service) enabled() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// IndexProject indexes a project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(p ProjectRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexProject(p); err != nil {
			s.logger.Warn(context.Background(), "index project", zap.String("projectId", p.ID), zap.Error(err))
		}
	}()
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t TaskRecord) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(t); err != nil {
			s.logger.Warn(context.Background(), "index task", zap.String("taskId", t.ID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteProject(id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(id); err != nil {
			s.logger.Warn(context.Background(), "delete project from index", zap.String("projectId", id), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteTask(id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			s.logger.Warn(context.Background(), "delete task from index", zap.String("taskId", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every project and task from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.enabled() || s.pg == nil {
		return
	}
	projects, tasks, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error(ctx, "reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexProjects(projects); err != nil {
		s.logger.Warn(ctx, "reindex projects", zap.Error(err))
	}
	if err := s.meili.IndexTasks(tasks); err != nil {
		s.logger.Warn(ctx, "reindex tasks", zap.Error(err))
	}
	s.logger.Info(ctx, "search reindex complete", zap.Int("projects", len(projects)), zap.Int("tasks", len(tasks)))
}

func (s *Service) Close() {
	if s != nil && s.meili != nil {
		s.meili.Close()
	}
}

// scoped drops any hit outside the visible project set.
func scoped(results []Result, projectIDs []string) []Result {
	allowed := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		allowed[id] = struct{}{}
	}
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if _, ok := allowed[r.ProjectID]; ok {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
