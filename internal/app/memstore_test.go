package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"proin/api/internal/store"
)

// memStore is an in-memory DataStore. WithTx snapshots every table and
// restores the snapshot when fn fails, so tests can observe rollbacks.
type memStore struct {
	mu sync.Mutex

	users    map[string]store.User
	projects map[string]store.Project
	members  map[string]store.Member
	tasks    map[string]store.Task
	trxs     map[string]store.Transaction
	comments map[string]store.Comment
	resets   map[string]memReset

	seq     int
	pingErr error
	// failOn makes the named operation return an error once.
	failOn map[string]error
}

type memReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]store.User{},
		projects: map[string]store.Project{},
		members:  map[string]store.Member{},
		tasks:    map[string]store.Task{},
		trxs:     map[string]store.Transaction{},
		comments: map[string]store.Comment{},
		resets:   map[string]memReset{},
		failOn:   map[string]error{},
	}
}

func (m *memStore) injected(op string) error {
	if err, ok := m.failOn[op]; ok {
		delete(m.failOn, op)
		return err
	}
	return nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

type memSnapshot struct {
	users    map[string]store.User
	projects map[string]store.Project
	members  map[string]store.Member
	tasks    map[string]store.Task
	trxs     map[string]store.Transaction
	comments map[string]store.Comment
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		users:    map[string]store.User{},
		projects: map[string]store.Project{},
		members:  map[string]store.Member{},
		tasks:    map[string]store.Task{},
		trxs:     map[string]store.Transaction{},
		comments: map[string]store.Comment{},
	}
	for k, v := range m.users {
		snap.users[k] = cloneUser(v)
	}
	for k, v := range m.projects {
		snap.projects[k] = cloneProject(v)
	}
	for k, v := range m.members {
		snap.members[k] = v
	}
	for k, v := range m.tasks {
		snap.tasks[k] = cloneTask(v)
	}
	for k, v := range m.trxs {
		snap.trxs[k] = cloneTransaction(v)
	}
	for k, v := range m.comments {
		snap.comments[k] = cloneComment(v)
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.projects = snap.projects
	m.members = snap.members
	m.tasks = snap.tasks
	m.trxs = snap.trxs
	m.comments = snap.comments
}

func (m *memStore) WithTx(ctx context.Context, fn func(q store.Querier) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func cloneStrings[T ~[]E, E any](in T) T {
	if in == nil {
		return nil
	}
	out := make(T, len(in))
	copy(out, in)
	return out
}

func cloneClassifiers(c store.Classifiers) store.Classifiers {
	return store.Classifiers{
		Income:   cloneStrings(c.Income),
		Expenses: cloneStrings(c.Expenses),
		Transfer: cloneStrings(c.Transfer),
	}
}

func cloneComments(in store.Comments) store.Comments {
	if in == nil {
		return nil
	}
	out := make(store.Comments, len(in))
	for i, c := range in {
		c.Mentions = cloneStrings(c.Mentions)
		c.Files = cloneStrings(c.Files)
		out[i] = c
	}
	return out
}

func cloneUser(u store.User) store.User {
	u.Projects = cloneStrings(u.Projects)
	u.Tasks = cloneStrings(u.Tasks)
	u.Transactions = cloneStrings(u.Transactions)
	return u
}

func cloneProject(p store.Project) store.Project {
	if p.ParentProject != nil {
		parent := *p.ParentProject
		p.ParentProject = &parent
	}
	p.SubProjects = cloneStrings(p.SubProjects)
	p.SharedWith = cloneStrings(p.SharedWith)
	p.Invitations = cloneStrings(p.Invitations)
	p.Files = cloneStrings(p.Files)
	p.Tasks = cloneStrings(p.Tasks)
	p.Transactions = cloneStrings(p.Transactions)
	p.Comments = cloneStrings(p.Comments)
	p.Classifiers = cloneClassifiers(p.Classifiers)
	return p
}

func cloneTask(t store.Task) store.Task {
	t.Files = cloneStrings(t.Files)
	t.Actions = cloneStrings(t.Actions)
	t.Comments = cloneComments(t.Comments)
	return t
}

func cloneTransaction(t store.Transaction) store.Transaction {
	t.Classifiers = cloneClassifiers(t.Classifiers)
	t.Files = cloneStrings(t.Files)
	t.Comments = cloneComments(t.Comments)
	return t
}

func cloneComment(c store.Comment) store.Comment {
	c.Mentions = cloneStrings(c.Mentions)
	c.Files = cloneStrings(c.Files)
	return c
}

func (m *memStore) CreateUser(ctx context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateUser"); err != nil {
		return err
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return fmt.Errorf("insert user: duplicate email %s", user.Email)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return cloneUser(user), nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memStore) CreateProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateProject"); err != nil {
		return err
	}
	if _, ok := m.projects[project.ID]; ok {
		return fmt.Errorf("insert project: duplicate id %s", project.ID)
	}
	m.seq++
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Unix(int64(m.seq), 0).UTC()
	}
	project.UpdatedAt = project.CreatedAt
	m.projects[project.ID] = cloneProject(project)
	return nil
}

func (m *memStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return cloneProject(project), nil
}

func (m *memStore) LockProject(ctx context.Context, id string) (store.Project, error) {
	return m.GetProject(ctx, id)
}

// SaveProject mirrors the SQL update: the tasks, transactions and comments
// reference lists are only changed through AttachRef and DetachRef.
func (m *memStore) SaveProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SaveProject"); err != nil {
		return err
	}
	existing, ok := m.projects[project.ID]
	if !ok {
		return sql.ErrNoRows
	}
	next := cloneProject(project)
	next.Tasks = existing.Tasks
	next.Transactions = existing.Transactions
	next.Comments = existing.Comments
	next.Creator = existing.Creator
	next.CreatedAt = existing.CreatedAt
	m.projects[project.ID] = next
	return nil
}

func (m *memStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteProject"); err != nil {
		return err
	}
	if _, ok := m.projects[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.projects, id)
	return nil
}

func (m *memStore) SetProjectParent(ctx context.Context, id string, parent *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return sql.ErrNoRows
	}
	if parent == nil {
		project.ParentProject = nil
	} else {
		value := *parent
		project.ParentProject = &value
	}
	m.projects[id] = project
	return nil
}

func (m *memStore) ListProjectsByIDs(ctx context.Context, ids []string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Project{}
	for _, id := range ids {
		if project, ok := m.projects[id]; ok {
			out = append(out, cloneProject(project))
		}
	}
	return out, nil
}

func (m *memStore) ListProjectsSharedWith(ctx context.Context, userID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Project{}
	for _, project := range m.projects {
		if project.SharedWith.Contains(userID) {
			out = append(out, cloneProject(project))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) SetProjectClassifiers(ctx context.Context, projectID, kind string, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Classifiers.Set(kind, cloneStrings(labels))
	m.projects[projectID] = project
	return nil
}

func (m *memStore) CreateMember(ctx context.Context, member store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateMember"); err != nil {
		return err
	}
	m.seq++
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Unix(int64(m.seq), 0).UTC()
	}
	m.members[member.ID] = member
	return nil
}

func (m *memStore) GetMembership(ctx context.Context, projectID, userID string) (store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  store.Member
		found bool
	)
	for _, member := range m.members {
		if member.ProjectID != projectID || member.UserID != userID {
			continue
		}
		if !found {
			best, found = member, true
			continue
		}
		bestActive := best.Status == "active"
		active := member.Status == "active"
		if active && !bestActive || active == bestActive && member.CreatedAt.After(best.CreatedAt) {
			best = member
		}
	}
	if !found {
		return store.Member{}, sql.ErrNoRows
	}
	return best, nil
}

func (m *memStore) UpdateMemberStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return sql.ErrNoRows
	}
	member.Status = status
	m.members[id] = member
	return nil
}

func (m *memStore) DeleteMember(ctx context.Context, projectID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, member := range m.members {
		if member.ProjectID == projectID && member.UserID == userID {
			delete(m.members, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeletePendingMembers(ctx context.Context, projectID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, member := range m.members {
		if member.ProjectID == projectID && member.UserID == userID && member.Status == "pending" {
			delete(m.members, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteProjectMembers(ctx context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteProjectMembers"); err != nil {
		return err
	}
	for id, member := range m.members {
		if member.ProjectID == projectID {
			delete(m.members, id)
		}
	}
	return nil
}

func (m *memStore) ListProjectMembers(ctx context.Context, projectID string) ([]store.MemberView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []store.Member
	for _, member := range m.members {
		if member.ProjectID == projectID {
			rows = append(rows, member)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	out := []store.MemberView{}
	for _, member := range rows {
		user, ok := m.users[member.UserID]
		if !ok {
			continue
		}
		out = append(out, store.MemberView{
			UserID: member.UserID,
			Name:   user.Name,
			Email:  user.Email,
			Role:   member.Role,
			Status: member.Status,
		})
	}
	return out, nil
}

func (m *memStore) CreateTask(ctx context.Context, task store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateTask"); err != nil {
		return err
	}
	task.Version = 1
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return cloneTask(task), nil
}

func (m *memStore) LockTask(ctx context.Context, id string) (store.Task, error) {
	return m.GetTask(ctx, id)
}

func (m *memStore) SaveTask(ctx context.Context, task store.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SaveTask"); err != nil {
		return err
	}
	existing, ok := m.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	next := cloneTask(task)
	next.ProjectID = existing.ProjectID
	next.UserID = existing.UserID
	next.Version = existing.Version + 1
	m.tasks[task.ID] = next
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) sortedTasks(keep func(store.Task) bool) []store.Task {
	out := []store.Task{}
	for _, task := range m.tasks {
		if keep(task) {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (m *memStore) ListTasksByProject(ctx context.Context, projectID string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t store.Task) bool { return t.ProjectID == projectID }), nil
}

func (m *memStore) ListTasksByIDs(ctx context.Context, ids []string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Task{}
	for _, id := range ids {
		if task, ok := m.tasks[id]; ok {
			out = append(out, cloneTask(task))
		}
	}
	return out, nil
}

func (m *memStore) ListTasksInProjects(ctx context.Context, projectIDs []string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t store.Task) bool { return containsID(projectIDs, t.ProjectID) }), nil
}

func (m *memStore) CreateTransaction(ctx context.Context, trx store.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateTransaction"); err != nil {
		return err
	}
	trx.Version = 1
	m.trxs[trx.ID] = cloneTransaction(trx)
	return nil
}

func (m *memStore) GetTransaction(ctx context.Context, id string) (store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trx, ok := m.trxs[id]
	if !ok {
		return store.Transaction{}, sql.ErrNoRows
	}
	return cloneTransaction(trx), nil
}

func (m *memStore) LockTransaction(ctx context.Context, id string) (store.Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *memStore) SaveTransaction(ctx context.Context, trx store.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SaveTransaction"); err != nil {
		return err
	}
	existing, ok := m.trxs[trx.ID]
	if !ok {
		return sql.ErrNoRows
	}
	next := cloneTransaction(trx)
	next.ProjectID = existing.ProjectID
	next.UserID = existing.UserID
	next.Version = existing.Version + 1
	m.trxs[trx.ID] = next
	return nil
}

func (m *memStore) DeleteTransaction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trxs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.trxs, id)
	return nil
}

func (m *memStore) ListTransactionsByProject(ctx context.Context, projectID string) ([]store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Transaction{}
	for _, trx := range m.trxs {
		if trx.ProjectID == projectID {
			out = append(out, cloneTransaction(trx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memStore) ListTransactionsByIDs(ctx context.Context, ids []string) ([]store.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Transaction{}
	for _, id := range ids {
		if trx, ok := m.trxs[id]; ok {
			out = append(out, cloneTransaction(trx))
		}
	}
	return out, nil
}

func (m *memStore) SetTypeClassifiers(ctx context.Context, projectID, kind string, labels []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SetTypeClassifiers"); err != nil {
		return 0, err
	}
	var n int64
	for id, trx := range m.trxs {
		if trx.ProjectID != projectID || trx.Type != kind {
			continue
		}
		trx.Classifiers.Set(kind, cloneStrings(labels))
		m.trxs[id] = trx
		n++
	}
	return n, nil
}

func (m *memStore) CreateComment(ctx context.Context, comment store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateComment"); err != nil {
		return err
	}
	m.comments[comment.ID] = cloneComment(comment)
	return nil
}

func (m *memStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return cloneComment(comment), nil
}

func (m *memStore) DeleteComment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.comments, id)
	return nil
}

func (m *memStore) ListCommentsByIDs(ctx context.Context, ids []string) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Comment{}
	for _, id := range ids {
		if comment, ok := m.comments[id]; ok {
			out = append(out, cloneComment(comment))
		}
	}
	return out, nil
}

func (m *memStore) SaveResetToken(ctx context.Context, tokenHash, userID string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[tokenHash] = memReset{userID: userID, expiresAt: time.Now().Add(time.Duration(ttlSeconds) * time.Second)}
	return nil
}

func (m *memStore) ConsumeResetToken(ctx context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset, ok := m.resets[tokenHash]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", sql.ErrNoRows
	}
	reset.used = true
	m.resets[tokenHash] = reset
	return reset.userID, nil
}

func (m *memStore) refList(list store.RefList, ownerID string) (store.StringList, func(store.StringList), bool) {
	switch list {
	case store.UserProjects, store.UserTasks, store.UserTransactions:
		user, ok := m.users[ownerID]
		if !ok {
			return nil, nil, false
		}
		var current store.StringList
		switch list {
		case store.UserProjects:
			current = user.Projects
		case store.UserTasks:
			current = user.Tasks
		default:
			current = user.Transactions
		}
		return current, func(next store.StringList) {
			switch list {
			case store.UserProjects:
				user.Projects = next
			case store.UserTasks:
				user.Tasks = next
			default:
				user.Transactions = next
			}
			m.users[ownerID] = user
		}, true
	default:
		project, ok := m.projects[ownerID]
		if !ok {
			return nil, nil, false
		}
		var current store.StringList
		switch list {
		case store.ProjectSubProjects:
			current = project.SubProjects
		case store.ProjectSharedWith:
			current = project.SharedWith
		case store.ProjectTasks:
			current = project.Tasks
		case store.ProjectTransactions:
			current = project.Transactions
		default:
			current = project.Comments
		}
		return current, func(next store.StringList) {
			switch list {
			case store.ProjectSubProjects:
				project.SubProjects = next
			case store.ProjectSharedWith:
				project.SharedWith = next
			case store.ProjectTasks:
				project.Tasks = next
			case store.ProjectTransactions:
				project.Transactions = next
			default:
				project.Comments = next
			}
			m.projects[ownerID] = project
		}, true
	}
}

func (m *memStore) AttachRef(ctx context.Context, list store.RefList, ownerID, refID string, pos store.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("AttachRef"); err != nil {
		return err
	}
	current, set, ok := m.refList(list, ownerID)
	if !ok {
		return sql.ErrNoRows
	}
	if current.Contains(refID) {
		return nil
	}
	next := make(store.StringList, 0, len(current)+1)
	if pos == store.Prepend {
		next = append(next, refID)
		next = append(next, current...)
	} else {
		next = append(next, current...)
		next = append(next, refID)
	}
	set(next)
	return nil
}

func (m *memStore) DetachRef(ctx context.Context, list store.RefList, ownerID, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, set, ok := m.refList(list, ownerID)
	if !ok {
		return sql.ErrNoRows
	}
	set(current.Without(refID))
	return nil
}

func (m *memStore) DetachRefAll(ctx context.Context, list store.RefList, refID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owners []string
	switch list {
	case store.UserProjects, store.UserTasks, store.UserTransactions:
		for id := range m.users {
			owners = append(owners, id)
		}
	default:
		for id := range m.projects {
			owners = append(owners, id)
		}
	}
	var n int64
	for _, ownerID := range owners {
		current, set, _ := m.refList(list, ownerID)
		if !current.Contains(refID) {
			continue
		}
		set(current.Without(refID))
		n++
	}
	return n, nil
}
