package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"proin/api/internal/dbx"
)

// Querier is the full set of document operations. It is satisfied by the
// store bound to the pool and by the store bound to an open transaction.
type Querier interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error

	CreateProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	LockProject(ctx context.Context, id string) (Project, error)
	SaveProject(ctx context.Context, project Project) error
	DeleteProject(ctx context.Context, id string) error
	SetProjectParent(ctx context.Context, id string, parent *string) error
	ListProjectsByIDs(ctx context.Context, ids []string) ([]Project, error)
	ListProjectsSharedWith(ctx context.Context, userID string) ([]Project, error)
	SetProjectClassifiers(ctx context.Context, projectID, kind string, labels []string) error

	CreateMember(ctx context.Context, member Member) error
	GetMembership(ctx context.Context, projectID, userID string) (Member, error)
	UpdateMemberStatus(ctx context.Context, id, status string) error
	DeleteMember(ctx context.Context, projectID, userID string) (int64, error)
	DeletePendingMembers(ctx context.Context, projectID, userID string) (int64, error)
	DeleteProjectMembers(ctx context.Context, projectID string) error
	ListProjectMembers(ctx context.Context, projectID string) ([]MemberView, error)

	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	LockTask(ctx context.Context, id string) (Task, error)
	SaveTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksByProject(ctx context.Context, projectID string) ([]Task, error)
	ListTasksByIDs(ctx context.Context, ids []string) ([]Task, error)
	ListTasksInProjects(ctx context.Context, projectIDs []string) ([]Task, error)

	CreateTransaction(ctx context.Context, trx Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	LockTransaction(ctx context.Context, id string) (Transaction, error)
	SaveTransaction(ctx context.Context, trx Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactionsByProject(ctx context.Context, projectID string) ([]Transaction, error)
	ListTransactionsByIDs(ctx context.Context, ids []string) ([]Transaction, error)
	SetTypeClassifiers(ctx context.Context, projectID, kind string, labels []string) (int64, error)

	CreateComment(ctx context.Context, comment Comment) error
	GetComment(ctx context.Context, id string) (Comment, error)
	DeleteComment(ctx context.Context, id string) error
	ListCommentsByIDs(ctx context.Context, ids []string) ([]Comment, error)

	SaveResetToken(ctx context.Context, tokenHash, userID string, ttlSeconds int) error
	ConsumeResetToken(ctx context.Context, tokenHash string) (string, error)

	AttachRef(ctx context.Context, list RefList, ownerID, refID string, pos Position) error
	DetachRef(ctx context.Context, list RefList, ownerID, refID string) error
	DetachRefAll(ctx context.Context, list RefList, refID string) (int64, error)
}

type PostgresStore struct {
	db   dbx.DBTX
	root *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, root: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.root
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.root == nil {
		return nil
	}
	return s.root.PingContext(ctx)
}

// WithTx runs fn against a store bound to one transaction. Calls made on a
// store that is already transactional join the outer transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Querier) error) error {
	if s.root == nil {
		return fn(s)
	}
	return dbx.WithTx(ctx, s.root, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(&PostgresStore{db: tx})
	})
}

// RefList names one ordered id list held in a JSONB column.
type RefList int

const (
	UserProjects RefList = iota
	UserTasks
	UserTransactions
	ProjectSubProjects
	ProjectSharedWith
	ProjectTasks
	ProjectTransactions
	ProjectComments
)

type Position int

const (
	Append Position = iota
	Prepend
)

func (l RefList) target() (table, column string) {
	switch l {
	case UserProjects:
		return "users", "projects"
	case UserTasks:
		return "users", "tasks"
	case UserTransactions:
		return "users", "transactions"
	case ProjectSubProjects:
		return "projects", "sub_projects"
	case ProjectSharedWith:
		return "projects", "shared_with"
	case ProjectTasks:
		return "projects", "tasks"
	case ProjectTransactions:
		return "projects", "transactions"
	case ProjectComments:
		return "projects", "comments"
	default:
		panic(fmt.Sprintf("unknown reference list %d", l))
	}
}

func (l RefList) String() string {
	table, column := l.target()
	return table + "." + column
}

// AttachRef adds refID to the list once; an id already present keeps its position.
func (s *PostgresStore) AttachRef(ctx context.Context, list RefList, ownerID, refID string, pos Position) error {
	table, column := list.target()
	grow := fmt.Sprintf("%s || jsonb_build_array($2::text)", column)
	if pos == Prepend {
		grow = fmt.Sprintf("jsonb_build_array($2::text) || %s", column)
	}
	query := fmt.Sprintf(`
		UPDATE %[1]s
		SET %[2]s = CASE WHEN %[2]s @> jsonb_build_array($2::text) THEN %[2]s ELSE %[3]s END
		WHERE id = $1
	`, table, column, grow)
	result, err := s.db.ExecContext(ctx, query, ownerID, refID)
	if err != nil {
		return fmt.Errorf("attach %s: %w", list, err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DetachRef(ctx context.Context, list RefList, ownerID, refID string) error {
	table, column := list.target()
	query := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = %[2]s - $2::text WHERE id = $1`, table, column)
	result, err := s.db.ExecContext(ctx, query, ownerID, refID)
	if err != nil {
		return fmt.Errorf("detach %s: %w", list, err)
	}
	return requireRow(result)
}

// DetachRefAll pulls refID out of the list on every row holding it.
func (s *PostgresStore) DetachRefAll(ctx context.Context, list RefList, refID string) (int64, error) {
	table, column := list.target()
	query := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = %[2]s - $1::text WHERE %[2]s @> jsonb_build_array($1::text)`, table, column)
	result, err := s.db.ExecContext(ctx, query, refID)
	if err != nil {
		return 0, fmt.Errorf("detach all %s: %w", list, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("detach all %s: %w", list, err)
	}
	return affected, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func jsonIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}
	return string(raw), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// orderByIDs returns items in the order of ids, skipping ids with no match.
func orderByIDs[T any](ids []string, items []T, id func(T) string) []T {
	byID := make(map[string]T, len(items))
	for _, item := range items {
		byID[id(item)] = item
	}
	out := make([]T, 0, len(ids))
	for _, key := range ids {
		if item, ok := byID[key]; ok {
			out = append(out, item)
		}
	}
	return out
}
