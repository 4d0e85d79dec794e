package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

var projectRowColumns = []string{
	"id", "project_name", "description", "logo_url", "creator", "parent_project", "sub_projects", "shared_with",
	"invitations", "files", "tasks", "transactions", "comments", "classifiers", "created_at", "updated_at",
}

func projectRow(rows *sqlmock.Rows, id, parent string) *sqlmock.Rows {
	var parentValue any
	if parent != "" {
		parentValue = parent
	}
	now := time.Now()
	return rows.AddRow(
		id, "Name "+id, "", "", "usr_1", parentValue,
		[]byte(`["prj_child"]`), []byte(`["usr_2"]`), []byte(`[{"id":"inv-1","email":"b@example.com"}]`),
		[]byte(`[]`), []byte(`["tsk_1"]`), []byte(`[]`), []byte(`[]`),
		[]byte(`{"income":["Salary"],"expenses":["Food"]}`), now, now,
	)
}

func TestAttachRefPrependsOnce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects`)).
		WithArgs("prj_1", "tsk_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.AttachRef(context.Background(), ProjectTasks, "prj_1", "tsk_1", Prepend))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachRefBuildsPrependExpression(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`SET tasks = CASE WHEN tasks @> jsonb_build_array($2::text) THEN tasks ELSE jsonb_build_array($2::text) || tasks END`)).
		WithArgs("usr_1", "tsk_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.AttachRef(context.Background(), UserTasks, "usr_1", "tsk_1", Prepend))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetachRefMissingOwner(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects SET sub_projects = sub_projects - $2::text WHERE id = $1`)).
		WithArgs("prj_missing", "prj_child").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DetachRef(context.Background(), ProjectSubProjects, "prj_missing", "prj_child")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDetachRefAllReportsRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET projects = projects - $1::text WHERE projects @> jsonb_build_array($1::text)`)).
		WithArgs("prj_1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DetachRefAll(context.Background(), UserProjects, "prj_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM projects WHERE id = $1`)).
		WithArgs("prj_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(q Querier) error {
		return q.DeleteProject(ctx, "prj_1")
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM projects WHERE id = $1`)).
		WithArgs("prj_2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = s.WithTx(ctx, func(q Querier) error {
		if err := q.DeleteProject(ctx, "prj_2"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxNestedJoinsOuterTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := s.WithTx(ctx, func(q Querier) error {
		inner, ok := q.(*PostgresStore)
		require.True(t, ok)
		return inner.WithTx(ctx, func(Querier) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectDecodesDocument(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1`)).
		WithArgs("prj_1").
		WillReturnRows(projectRow(sqlmock.NewRows(projectRowColumns), "prj_1", "prj_parent"))

	project, err := s.GetProject(context.Background(), "prj_1")
	require.NoError(t, err)
	assert.Equal(t, "prj_parent", project.Parent())
	assert.Equal(t, StringList{"prj_child"}, project.SubProjects)
	assert.Equal(t, []string{"Salary"}, project.Classifiers.Income)
	assert.Equal(t, []string{}, project.Classifiers.Transfer)
	require.Len(t, project.Invitations, 1)
	assert.Equal(t, "b@example.com", project.Invitations[0].Email)
}

func TestGetProjectNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id = $1`)).
		WithArgs("prj_x").
		WillReturnRows(sqlmock.NewRows(projectRowColumns))

	_, err := s.GetProject(context.Background(), "prj_x")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListProjectsByIDsKeepsOrder(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(projectRowColumns)
	projectRow(rows, "prj_a", "")
	projectRow(rows, "prj_b", "")

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))`)).
		WithArgs(`["prj_b","prj_gone","prj_a"]`).
		WillReturnRows(rows)

	projects, err := s.ListProjectsByIDs(context.Background(), []string{"prj_b", "prj_gone", "prj_a"})
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "prj_b", projects[0].ID)
	assert.Equal(t, "prj_a", projects[1].ID)
}

func TestListProjectsByIDsEmptySkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)
	projects, err := s.ListProjectsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, projects)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTypeClassifiersScopesToProjectAndType(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE project_id = $1 AND type = $2`)).
		WithArgs("prj_1", TypeExpenses, `["Food","Rent"]`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.SetTypeClassifiers(context.Background(), "prj_1", TypeExpenses, []string{"Food", "Rent"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSaveTaskBumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	task := Task{ID: "tsk_1", Name: "Ship", Status: "new", Timestamp: time.Now()}

	mock.ExpectExec(regexp.QuoteMeta(`version = version + 1`)).
		WithArgs("tsk_1", "Ship", "", "new", task.Timestamp, "[]", "[]", "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransactionDecodesSum(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "project_id", "user_id", "description", "sum", "classifier", "type", "ts", "classifiers", "files", "comments", "version",
	}).AddRow("trx_1", "prj_1", "usr_1", "Lunch", "12.50", "Food", TypeExpenses, now,
		[]byte(`{"income":[],"expenses":["Food"],"transfer":[]}`), []byte(`[]`), []byte(`[]`), 2)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE id = $1`)).WithArgs("trx_1").WillReturnRows(rows)

	trx, err := s.GetTransaction(context.Background(), "trx_1")
	require.NoError(t, err)
	assert.True(t, trx.Sum.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, trx.Classifiers.Has(TypeExpenses, "Food"))
	assert.Equal(t, 2, trx.Version)
}

func TestConsumeResetTokenUnknown(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE password_resets`)).
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := s.ConsumeResetToken(context.Background(), "hash")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetMembershipPrefersActive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY (status = 'active') DESC`)).
		WithArgs("prj_1", "usr_2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "user_id", "role", "status", "created_at"}).
			AddRow("mem_1", "prj_1", "usr_2", "admin", "active", time.Now()))

	member, err := s.GetMembership(context.Background(), "prj_1", "usr_2")
	require.NoError(t, err)
	assert.Equal(t, "active", member.Status)
}

func TestDeletePendingMembersLeavesActiveRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`WHERE project_id = $1 AND user_id = $2 AND status = 'pending'`)).
		WithArgs("prj_1", "usr_2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.DeletePendingMembers(context.Background(), "prj_1", "usr_2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
