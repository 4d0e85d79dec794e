package app

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"proin/api/internal/authpw"
	"proin/api/internal/config"
	"proin/api/internal/email"
	"proin/api/internal/events"
	"proin/api/internal/session"
	"proin/api/internal/storage"
	"proin/api/internal/store"
)

const testFrontend = "https://app.example.test"

type fakeGateway struct {
	mu        sync.Mutex
	objects   map[string]string
	deleted   []string
	putErr    map[string]error
	deleteErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: map[string]string{}, putErr: map[string]error{}}
}

func (g *fakeGateway) Put(_ context.Context, key, contentType string, _ []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, err := range g.putErr {
		if strings.HasSuffix(key, "-"+name) {
			return "", err
		}
	}
	url := "https://files.example.test/" + key
	g.objects[url] = contentType
	return url, nil
}

func (g *fakeGateway) Delete(_ context.Context, url string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.objects[url]; !ok {
		return storage.ErrNotFound
	}
	delete(g.objects, url)
	g.deleted = append(g.deleted, url)
	return nil
}

func (g *fakeGateway) has(url string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.objects[url]
	return ok
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, event := range r.events {
		out[i] = event.Type
	}
	return out
}

type sentMail struct {
	kind string
	msg  email.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) Notify(_ context.Context, kind string, msg email.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{kind: kind, msg: msg})
}

func (n *recordingNotifier) ofKind(kind string) []email.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []email.Message
	for _, mail := range n.sent {
		if mail.kind == kind {
			out = append(out, mail.msg)
		}
	}
	return out
}

type testEnv struct {
	svc      *Service
	store    *memStore
	files    *fakeGateway
	events   *recordingEvents
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := newMemStore()
	env := &testEnv{
		store:    ms,
		files:    newFakeGateway(),
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
	}
	cfg := config.Defaults()
	cfg.Server.FrontendURL = testFrontend
	cfg.Auth.JWTSecret = "test-secret"

	env.svc = New(cfg, Dependencies{
		Store:    ms,
		Storage:  env.files,
		Notifier: env.notifier,
		Events:   env.events,
		Auth:     authpw.NewService(ms, session.NewPostgresStore(ms), cfg.Auth.JWTSecret, time.Hour, time.Hour),
	})
	return env
}

func (e *testEnv) user(t *testing.T, id, name string) Identity {
	t.Helper()
	address := strings.ToLower(name) + "@example.test"
	require.NoError(t, e.store.CreateUser(context.Background(), store.User{
		ID:           id,
		Email:        address,
		Name:         name,
		Projects:     store.StringList{},
		Tasks:        store.StringList{},
		Transactions: store.StringList{},
	}))
	return Identity{UserID: id, Email: address}
}

func (e *testEnv) project(t *testing.T, owner Identity, name string) store.Project {
	t.Helper()
	project, err := e.svc.CreateProject(context.Background(), owner, ProjectInput{ProjectName: &name})
	require.NoError(t, err)
	return project
}

func (e *testEnv) subProject(t *testing.T, owner Identity, parentID, name string) store.Project {
	t.Helper()
	project, err := e.svc.CreateSubProject(context.Background(), parentID, owner, ProjectInput{ProjectName: &name})
	require.NoError(t, err)
	return project
}

// share gives userID an active guest membership and a sharedWith entry.
func (e *testEnv) share(t *testing.T, projectID string, user Identity, role string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.CreateMember(ctx, store.Member{
		ID:        "mem-" + projectID + "-" + user.UserID,
		ProjectID: projectID,
		UserID:    user.UserID,
		Role:      role,
		Status:    "active",
	}))
	require.NoError(t, e.store.AttachRef(ctx, store.ProjectSharedWith, projectID, user.UserID, store.Append))
}

func (e *testEnv) mustProject(t *testing.T, id string) store.Project {
	t.Helper()
	project, err := e.store.GetProject(context.Background(), id)
	require.NoError(t, err)
	return project
}

func (e *testEnv) mustUser(t *testing.T, id string) store.User {
	t.Helper()
	user, err := e.store.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

// assertHierarchy checks that parentProject back-references and subProjects
// lists agree in both directions.
func (e *testEnv) assertHierarchy(t *testing.T) {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	for _, project := range e.store.projects {
		if parent := project.Parent(); parent != "" {
			owner, ok := e.store.projects[parent]
			require.Truef(t, ok, "project %s points at missing parent %s", project.ID, parent)
			require.Truef(t, owner.SubProjects.Contains(project.ID), "parent %s does not list %s", parent, project.ID)
		}
		for _, childID := range project.SubProjects {
			child, ok := e.store.projects[childID]
			require.Truef(t, ok, "project %s lists missing child %s", project.ID, childID)
			require.Equalf(t, project.ID, child.Parent(), "child %s has wrong parent", childID)
		}
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var domainErr *DomainError
	require.Truef(t, errors.As(err, &domainErr), "expected domain error, got %v", err)
	require.Equal(t, code, domainErr.Code, domainErr.Message)
}

func upload(name, content string) FileUpload {
	return FileUpload{Name: name, Data: base64.StdEncoding.EncodeToString([]byte(content))}
}

func strPtr(s string) *string { return &s }
