package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"proin/api/internal/events"
	"proin/api/internal/rbac"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

type TransactionInput struct {
	Timestamp   *time.Time       `json:"timestamp"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Sum         *decimal.Decimal `json:"sum"`
	Classifier  string           `json:"classifier"`
}

// TransactionChanges is a partial update. Classifiers replaces the label list
// of the transaction's type and propagates to the project and its other
// transactions of that type.
type TransactionChanges struct {
	Description *string          `json:"description"`
	Sum         *decimal.Decimal `json:"sum"`
	Classifier  *string          `json:"classifier"`
	Timestamp   *time.Time       `json:"timestamp"`
	Type        *string          `json:"type"`
	Classifiers *[]string        `json:"classifiers"`
}

func lockTransaction(ctx context.Context, q store.Querier, transactionID string) (store.Transaction, error) {
	trx, err := q.LockTransaction(ctx, transactionID)
	if isNoRows(err) {
		return store.Transaction{}, notFound("Could not find transaction for the provided id.")
	}
	if err != nil {
		return store.Transaction{}, fmt.Errorf("lock transaction %s: %w", transactionID, err)
	}
	return trx, nil
}

func (s *Service) transactionFor(ctx context.Context, q store.Querier, transactionID string, id Identity, action rbac.Action, lock bool) (store.Transaction, error) {
	var (
		trx store.Transaction
		err error
	)
	if lock {
		trx, err = lockTransaction(ctx, q, transactionID)
	} else {
		trx, err = q.GetTransaction(ctx, transactionID)
		if isNoRows(err) {
			return store.Transaction{}, notFound("Could not find transaction for the provided id.")
		}
	}
	if err != nil {
		return store.Transaction{}, err
	}
	if _, err := projectFor(ctx, q, trx.ProjectID, id, action, false); err != nil {
		return store.Transaction{}, err
	}
	return trx, nil
}

func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// CreateTransaction stamps a snapshot of the project's classifiers on the new
// document. A missing type defaults to expenses.
func (s *Service) CreateTransaction(ctx context.Context, projectID string, id Identity, in TransactionInput) (trx store.Transaction, err error) {
	defer s.observe("transaction.create", time.Now(), &err)

	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = store.TypeExpenses
	}
	if !store.ValidType(kind) {
		return store.Transaction{}, validation("Invalid transaction type.", map[string]any{"type": kind})
	}
	ts := s.now()
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}
	sum := decimal.Zero
	if in.Sum != nil {
		sum = *in.Sum
	}

	err = s.store.WithTx(ctx, func(q store.Querier) error {
		project, err := projectFor(ctx, q, projectID, id, rbac.ActionWrite, false)
		if err != nil {
			return err
		}
		classifier := strings.TrimSpace(in.Classifier)
		if classifier != "" && !project.Classifiers.Has(kind, classifier) {
			return validation("Classifier is not defined for this transaction type.", map[string]any{"classifier": classifier, "type": kind})
		}

		trx = store.Transaction{
			ID:          util.NewID("trx"),
			ProjectID:   projectID,
			UserID:      id.UserID,
			Description: in.Description,
			Sum:         sum,
			Classifier:  classifier,
			Type:        kind,
			Timestamp:   ts,
			Classifiers: project.Classifiers,
			Files:       store.Files{},
			Comments:    store.Comments{},
			Version:     1,
		}
		if err := q.CreateTransaction(ctx, trx); err != nil {
			return err
		}
		if err := q.AttachRef(ctx, store.ProjectTransactions, projectID, trx.ID, store.Prepend); err != nil {
			return err
		}
		return q.AttachRef(ctx, store.UserTransactions, id.UserID, trx.ID, store.Prepend)
	})
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.create", err, creationFailed("Creating transaction failed, please try again."),
			zap.String("projectId", projectID))
	}

	s.publish(ctx, events.TransactionCreated, projectID, id.UserID, trx.ID, map[string]any{"type": trx.Type})
	return trx, nil
}

// UpdateTransaction applies scalar changes and, when classifiers are given,
// replaces the label list of the type on the project and on every transaction
// of that project and type inside the same database transaction.
func (s *Service) UpdateTransaction(ctx context.Context, transactionID string, id Identity, changes TransactionChanges) (trx store.Transaction, err error) {
	defer s.observe("transaction.update", time.Now(), &err)

	if changes.Type != nil && !store.ValidType(*changes.Type) {
		return store.Transaction{}, validation("Invalid transaction type.", map[string]any{"type": *changes.Type})
	}

	var propagated int64
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = lockTransaction(ctx, q, transactionID)
		if err != nil {
			return err
		}
		project, err := loadProject(ctx, q, trx.ProjectID, changes.Classifiers != nil)
		if err != nil {
			return err
		}
		if err := authorize(ctx, q, project, id.UserID, rbac.ActionWrite); err != nil {
			return err
		}

		if changes.Description != nil {
			trx.Description = *changes.Description
		}
		if changes.Sum != nil {
			trx.Sum = *changes.Sum
		}
		if changes.Timestamp != nil {
			trx.Timestamp = changes.Timestamp.UTC()
		}
		typeChanged := changes.Type != nil && *changes.Type != trx.Type
		if changes.Type != nil {
			trx.Type = *changes.Type
		}

		if changes.Classifiers != nil {
			labels := cleanLabels(*changes.Classifiers)
			if err := q.SetProjectClassifiers(ctx, project.ID, trx.Type, labels); err != nil {
				return err
			}
			propagated, err = q.SetTypeClassifiers(ctx, project.ID, trx.Type, labels)
			if err != nil {
				return err
			}
			trx.Classifiers.Set(trx.Type, labels)
		}

		if changes.Classifier != nil {
			trx.Classifier = strings.TrimSpace(*changes.Classifier)
		}
		if (changes.Classifier != nil || typeChanged) && trx.Classifier != "" && !trx.Classifiers.Has(trx.Type, trx.Classifier) {
			return validation("Classifier is not defined for this transaction type.",
				map[string]any{"classifier": trx.Classifier, "type": trx.Type})
		}

		if err := q.SaveTransaction(ctx, trx); err != nil {
			return err
		}
		trx.Version++
		return nil
	})
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.update", err, updateFailed("Something went wrong, could not update transaction."),
			zap.String("transactionId", transactionID))
	}

	data := map[string]any{"version": trx.Version}
	if changes.Classifiers != nil {
		data["classifiersType"] = trx.Type
		data["propagated"] = propagated
	}
	s.publish(ctx, events.TransactionUpdated, trx.ProjectID, id.UserID, trx.ID, data)
	return trx, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, transactionID string, id Identity) (err error) {
	defer s.observe("transaction.delete", time.Now(), &err)

	var trx store.Transaction
	err = s.store.WithTx(ctx, func(q store.Querier) error {
		var err error
		trx, err = s.transactionFor(ctx, q, transactionID, id, rbac.ActionWrite, true)
		if err != nil {
			return err
		}
		if err := detachIgnoringMissing(ctx, q, store.ProjectTransactions, trx.ProjectID, trx.ID); err != nil {
			return err
		}
		if err := detachIgnoringMissing(ctx, q, store.UserTransactions, id.UserID, trx.ID); err != nil {
			return err
		}
		if trx.UserID != id.UserID {
			if err := detachIgnoringMissing(ctx, q, store.UserTransactions, trx.UserID, trx.ID); err != nil {
				return err
			}
		}
		return q.DeleteTransaction(ctx, trx.ID)
	})
	if err != nil {
		return s.fail(ctx, "transaction.delete", err, deletionFailed("Something went wrong, could not delete transaction."),
			zap.String("transactionId", transactionID))
	}

	for _, file := range trx.Files {
		if err := s.deleteStoredFile(ctx, file.URL); err != nil {
			s.logger.Warn(ctx, "transaction file left in storage", zap.String("transactionId", transactionID), zap.String("url", file.URL))
		}
	}
	s.publish(ctx, events.TransactionDeleted, trx.ProjectID, id.UserID, trx.ID, nil)
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string, id Identity) (trx store.Transaction, err error) {
	defer s.observe("transaction.get", time.Now(), &err)

	trx, err = s.transactionFor(ctx, s.store, transactionID, id, rbac.ActionRead, false)
	if err != nil {
		return store.Transaction{}, s.fail(ctx, "transaction.get", err, serverError("Something went wrong, could not find transaction."))
	}
	return trx, nil
}

func (s *Service) ListProjectTransactions(ctx context.Context, projectID string, id Identity) (trxs []store.Transaction, err error) {
	defer s.observe("transaction.list_project", time.Now(), &err)

	if _, err := projectFor(ctx, s.store, projectID, id, rbac.ActionRead, false); err != nil {
		return nil, s.fail(ctx, "transaction.list_project", err, serverError("Fetching transactions failed, please try again later."))
	}
	trxs, err = s.store.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return nil, s.fail(ctx, "transaction.list_project", err, serverError("Fetching transactions failed, please try again later."))
	}
	return trxs, nil
}

func (s *Service) ListUserTransactions(ctx context.Context, id Identity) (trxs []store.Transaction, err error) {
	defer s.observe("transaction.list_user", time.Now(), &err)

	user, err := s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return nil, s.fail(ctx, "transaction.list_user", err, serverError("Fetching transactions failed, please try again later."))
	}
	trxs, err = s.store.ListTransactionsByIDs(ctx, user.Transactions)
	if err != nil {
		return nil, s.fail(ctx, "transaction.list_user", err, serverError("Fetching transactions failed, please try again later."))
	}
	return trxs, nil
}
