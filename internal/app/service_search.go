package app

import (
	"context"
	"strings"

	"proin/api/internal/search"
)

// visibleProjectIDs collects the caller's top-level projects, projects shared
// with the caller and every sub-project below them.
func (s *Service) visibleProjectIDs(ctx context.Context, id Identity) ([]string, error) {
	user, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return nil, err
	}
	shared, err := s.store.ListProjectsSharedWith(ctx, id.UserID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	frontier := append([]string{}, user.Projects...)
	for _, project := range shared {
		frontier = append(frontier, project.ID)
	}
	for depth := 0; len(frontier) > 0 && depth < maxHierarchyDepth; depth++ {
		var pending []string
		for _, projectID := range frontier {
			if _, ok := seen[projectID]; ok {
				continue
			}
			seen[projectID] = struct{}{}
			pending = append(pending, projectID)
		}
		if len(pending) == 0 {
			break
		}
		projects, err := s.store.ListProjectsByIDs(ctx, pending)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, project := range projects {
			ids = append(ids, project.ID)
			frontier = append(frontier, project.SubProjects...)
		}
	}
	return ids, nil
}

func (s *Service) Search(ctx context.Context, id Identity, text, kind string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	scope, err := s.visibleProjectIDs(ctx, id)
	if err != nil {
		return search.Response{}, s.fail(ctx, "search", err, serverError("Search failed, please try again later."))
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: search.ResultType(kind),
		ProjectIDs: scope,
		Limit:      limit,
		Offset:     offset,
	}), nil
}
