package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/laundryhub/laundry-api/repositories"
)

// MockTransactionManager is a mock implementation of TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
	committed  bool
	rolledback bool
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	m.committed = true
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	m.rolledback = true
	return args.Error(0)
}

func (m *MockTransaction) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

type txKey struct{}

func TestWithTransaction(t *testing.T) {
	opErr := errors.New("insert outlet failed")

	tests := []struct {
		name         string
		beginErr     error
		fnErr        error
		commitErr    error
		rollbackErr  error
		wantErr      string
		wantCommit   bool
		wantRollback bool
	}{
		{name: "commits on success", wantCommit: true},
		{name: "rolls back when the function fails", fnErr: opErr, wantErr: opErr.Error(), wantRollback: true},
		{name: "begin failure", beginErr: errors.New("connection refused"), wantErr: "failed to begin transaction"},
		{name: "commit failure", commitErr: errors.New("serialization failure"), wantErr: "failed to commit transaction", wantCommit: true},
		{name: "rollback failure is reported", fnErr: opErr, rollbackErr: errors.New("conn closed"), wantErr: "rollback error", wantRollback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			txCtx := context.WithValue(ctx, txKey{}, "tx")
			mgr := new(MockTransactionManager)
			tx := new(MockTransaction)

			if tt.beginErr != nil {
				mgr.On("Begin", ctx).Return(nil, tt.beginErr)
			} else {
				mgr.On("Begin", ctx).Return(tx, nil)
				tx.On("Context").Return(txCtx)
			}
			if tt.wantCommit {
				tx.On("Commit").Return(tt.commitErr)
			}
			if tt.wantRollback {
				tx.On("Rollback").Return(tt.rollbackErr)
			}

			var seen context.Context
			err := WithTransaction(ctx, mgr, func(ctx context.Context, _ repositories.Transaction) error {
				seen = ctx
				return tt.fnErr
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.beginErr == nil {
				assert.Equal(t, "tx", seen.Value(txKey{}), "function must receive the transaction context")
			}
			assert.Equal(t, tt.wantCommit, tx.committed)
			assert.Equal(t, tt.wantRollback, tx.rolledback)
			mgr.AssertExpectations(t)
			tx.AssertExpectations(t)
		})
	}
}

func TestWithTransaction_FunctionErrorIsReturnedUnwrapped(t *testing.T) {
	ctx := context.Background()
	mgr := new(MockTransactionManager)
	tx := new(MockTransaction)
	mgr.On("Begin", ctx).Return(tx, nil)
	tx.On("Context").Return(ctx)
	tx.On("Rollback").Return(nil)

	err := WithTransaction(ctx, mgr, func(context.Context, repositories.Transaction) error {
		return ErrDuplicateMembership
	})

	assert.Equal(t, ErrDuplicateMembership, err)
	assert.True(t, IsConflictError(err))
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	mgr := new(MockTransactionManager)
	tx := new(MockTransaction)
	mgr.On("Begin", ctx).Return(tx, nil)
	tx.On("Context").Return(ctx)
	tx.On("Rollback").Return(nil)

	assert.Panics(t, func() {
		_ = WithTransaction(ctx, mgr, func(context.Context, repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.True(t, tx.rolledback)
}

func TestWithTransactionResult(t *testing.T) {
	t.Run("returns the result on commit", func(t *testing.T) {
		ctx := context.Background()
		mgr := new(MockTransactionManager)
		tx := new(MockTransaction)
		mgr.On("Begin", ctx).Return(tx, nil)
		tx.On("Context").Return(ctx)
		tx.On("Commit").Return(nil)

		id, err := WithTransactionResult(ctx, mgr, func(context.Context, repositories.Transaction) (int64, error) {
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
		assert.True(t, tx.committed)
	})

	t.Run("rolls back and surfaces the error", func(t *testing.T) {
		ctx := context.Background()
		mgr := new(MockTransactionManager)
		tx := new(MockTransaction)
		mgr.On("Begin", ctx).Return(tx, nil)
		tx.On("Context").Return(ctx)
		tx.On("Rollback").Return(nil)

		_, err := WithTransactionResult(ctx, mgr, func(context.Context, repositories.Transaction) (int64, error) {
			return 0, ErrOutletNotFound
		})

		assert.ErrorIs(t, err, ErrOutletNotFound)
		assert.True(t, tx.rolledback)
		assert.False(t, tx.committed)
	})

	t.Run("begin failure yields the zero value", func(t *testing.T) {
		ctx := context.Background()
		mgr := new(MockTransactionManager)
		mgr.On("Begin", ctx).Return(nil, errors.New("pool exhausted"))

		id, err := WithTransactionResult(ctx, mgr, func(context.Context, repositories.Transaction) (int64, error) {
			return 7, nil
		})

		require.Error(t, err)
		assert.Zero(t, id)
	})
}
