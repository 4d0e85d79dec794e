package app

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proin/api/internal/store"
)

func TestCreateTransactionDefaultsAndSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")
	sum := decimal.RequireFromString("12.50")

	trx, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Sum: &sum, Classifier: "Food"})
	require.NoError(t, err)

	assert.Equal(t, store.TypeExpenses, trx.Type)
	assert.True(t, sum.Equal(trx.Sum))
	assert.Equal(t, project.Classifiers, trx.Classifiers)
	assert.Equal(t, store.StringList{trx.ID}, env.mustProject(t, project.ID).Transactions)
	assert.Equal(t, store.StringList{trx.ID}, env.mustUser(t, alice.UserID).Transactions)
}

func TestCreateTransactionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")

	_, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Type: "gift"})
	requireCode(t, err, CodeValidation)

	_, err = env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Type: store.TypeIncome, Classifier: "Food"})
	requireCode(t, err, CodeValidation)

	assert.Empty(t, env.store.trxs)
	assert.Empty(t, env.mustProject(t, project.ID).Transactions)
}

func TestUpdateTransactionPropagatesClassifiers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")
	edited, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Type: store.TypeExpenses})
	require.NoError(t, err)
	sibling, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Type: store.TypeExpenses})
	require.NoError(t, err)
	income, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Type: store.TypeIncome})
	require.NoError(t, err)

	labels := []string{"Rent", " Rent ", "", "Travel"}
	updated, err := env.svc.UpdateTransaction(ctx, edited.ID, alice, TransactionChanges{
		Classifiers: &labels,
		Classifier:  strPtr("Travel"),
	})
	require.NoError(t, err)

	want := []string{"Rent", "Travel"}
	assert.Equal(t, want, updated.Classifiers.Expenses)
	assert.Equal(t, "Travel", updated.Classifier)
	assert.Equal(t, want, env.mustProject(t, project.ID).Classifiers.Expenses)

	storedSibling, err := env.store.GetTransaction(ctx, sibling.ID)
	require.NoError(t, err)
	assert.Equal(t, want, storedSibling.Classifiers.Expenses)

	storedIncome, err := env.store.GetTransaction(ctx, income.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultClassifiers().Expenses, storedIncome.Classifiers.Expenses)
	assert.Equal(t, store.DefaultClassifiers().Income, storedIncome.Classifiers.Income)
}

func TestUpdateTransactionPropagationRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")
	trx, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{})
	require.NoError(t, err)
	env.store.failOn["SaveTransaction"] = errors.New("connection reset")

	labels := []string{"Only"}
	_, err = env.svc.UpdateTransaction(ctx, trx.ID, alice, TransactionChanges{Classifiers: &labels})

	requireCode(t, err, CodeUpdateFailed)
	assert.Equal(t, store.DefaultClassifiers().Expenses, env.mustProject(t, project.ID).Classifiers.Expenses)
}

func TestUpdateTransactionRejectsUnknownClassifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")
	trx, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{Classifier: "Food"})
	require.NoError(t, err)

	_, err = env.svc.UpdateTransaction(ctx, trx.ID, alice, TransactionChanges{Type: strPtr(store.TypeIncome)})
	requireCode(t, err, CodeValidation)

	_, err = env.svc.UpdateTransaction(ctx, trx.ID, alice, TransactionChanges{Classifier: strPtr("Yachts")})
	requireCode(t, err, CodeValidation)

	_, err = env.svc.UpdateTransaction(ctx, "missing", alice, TransactionChanges{})
	requireCode(t, err, CodeNotFound)
}

func TestDeleteTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	bob := env.user(t, "u-bob", "Bob")
	project := env.project(t, alice, "Money")
	env.share(t, project.ID, bob, "guest")
	trx, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{})
	require.NoError(t, err)

	requireCode(t, env.svc.DeleteTransaction(ctx, trx.ID, bob), CodeForbidden)

	got, err := env.svc.GetTransaction(ctx, trx.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, trx.ID, got.ID)

	require.NoError(t, env.svc.DeleteTransaction(ctx, trx.ID, alice))
	assert.Empty(t, env.mustProject(t, project.ID).Transactions)
	assert.Empty(t, env.mustUser(t, alice.UserID).Transactions)

	list, err := env.svc.ListUserTransactions(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransactionFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "u-alice", "Alice")
	project := env.project(t, alice, "Money")
	trx, err := env.svc.CreateTransaction(ctx, project.ID, alice, TransactionInput{})
	require.NoError(t, err)

	withFile, err := env.svc.AddTransactionFiles(ctx, trx.ID, alice, []FileUpload{upload("receipt.pdf", "%PDF")})
	require.NoError(t, err)
	require.Len(t, withFile.Files, 1)
	assert.Equal(t, 2, withFile.Version)

	fileID := withFile.Files[0].ID
	without, err := env.svc.RemoveTransactionFile(ctx, trx.ID, fileID, alice)
	require.NoError(t, err)
	assert.Empty(t, without.Files)
	assert.False(t, env.files.has(withFile.Files[0].URL))

	_, err = env.svc.RemoveTransactionFile(ctx, trx.ID, fileID, alice)
	requireCode(t, err, CodeNotFound)
}
