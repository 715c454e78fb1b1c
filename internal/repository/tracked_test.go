package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	wfcontext "katalyst/internal/context"
	"katalyst/internal/domain/workflow"
	"katalyst/internal/infrastructure/persistence/memory"
	"katalyst/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// AccountRepository is a minimal tracked repository for tests.
type AccountRepository struct {
	repository.TrackedRepository
	saved []string
}

func newAccountRepository(log repository.OperationLogRepository) *AccountRepository {
	repo := &AccountRepository{}
	repo.TrackedRepository = repository.NewTrackedRepository(repo, log, zap.NewNop())
	return repo
}

func (r *AccountRepository) Save(ctx context.Context, accountID string) error {
	return r.Tracked(ctx, repository.TrackedOp{
		Type:       workflow.OperationInsert,
		ResourceID: accountID,
		UndoData:   map[string]interface{}{"id": accountID},
	}, func(ctx context.Context) error {
		r.saved = append(r.saved, accountID)
		return nil
	})
}

func TestTracked_LogsOperationWithAmbientWorkflow(t *testing.T) {
	log := memory.NewOperationLog()
	repo := newAccountRepository(log)

	scope := wfcontext.NewWorkflowScope("wf-1")
	ctx := wfcontext.WithWorkflowScope(context.Background(), scope)

	require.NoError(t, repo.Save(ctx, "acct-1"))
	require.NoError(t, repo.Save(ctx, "acct-2"))

	// Logging is fire-and-forget; wait for the async writes to land.
	require.Eventually(t, func() bool {
		ops, _ := log.GetAllOperations(context.Background(), "wf-1")
		return len(ops) == 2
	}, time.Second, 5*time.Millisecond)

	ops, err := log.GetAllOperations(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 0, ops[0].OperationIndex)
	assert.Equal(t, 1, ops[1].OperationIndex)
	assert.Equal(t, workflow.OperationInsert, ops[0].OperationType)
	assert.Equal(t, "Account", ops[0].ResourceType, "resource type derived from type name")
	assert.Equal(t, "acct-1", ops[0].ResourceID)
	assert.Equal(t, workflow.OperationPending, ops[0].Status)
	assert.Equal(t, map[string]interface{}{"id": "acct-1"}, ops[0].UndoData)
}

func TestTracked_NoAmbientWorkflowLogsNothing(t *testing.T) {
	log := memory.NewOperationLog()
	repo := newAccountRepository(log)

	require.NoError(t, repo.Save(context.Background(), "acct-1"))
	assert.Equal(t, []string{"acct-1"}, repo.saved)

	time.Sleep(20 * time.Millisecond)
	ops, err := log.GetFailedOperations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestTracked_BodyErrorSkipsLogging(t *testing.T) {
	log := memory.NewOperationLog()
	repo := newAccountRepository(log)

	scope := wfcontext.NewWorkflowScope("wf-err")
	ctx := wfcontext.WithWorkflowScope(context.Background(), scope)

	bodyErr := errors.New("constraint violation")
	err := repo.Tracked(ctx, repository.TrackedOp{Type: workflow.OperationInsert}, func(ctx context.Context) error {
		return bodyErr
	})
	require.ErrorIs(t, err, bodyErr)

	time.Sleep(20 * time.Millisecond)
	ops, _ := log.GetAllOperations(context.Background(), "wf-err")
	assert.Empty(t, ops, "failed bodies must not be logged")
	assert.Equal(t, 0, scope.OperationCount())
}

type weirdlyNamed struct {
	repository.TrackedRepository
}

func TestTracked_ResourceTypeFallsBackToUnknown(t *testing.T) {
	base := repository.NewTrackedRepository(nil, memory.NewOperationLog(), nil)
	assert.Equal(t, repository.UnknownResourceType, base.ResourceType())

	// A type named exactly "Repository" leaves nothing after stripping.
	type Repository struct{}
	stripped := repository.NewTrackedRepository(&Repository{}, memory.NewOperationLog(), nil)
	assert.Equal(t, repository.UnknownResourceType, stripped.ResourceType())

	named := &weirdlyNamed{}
	named.TrackedRepository = repository.NewTrackedRepository(named, memory.NewOperationLog(), nil)
	assert.Equal(t, "weirdlyNamed", named.ResourceType())
}

func TestTracked_ExplicitResourceTypeWins(t *testing.T) {
	log := memory.NewOperationLog()
	repo := newAccountRepository(log)

	scope := wfcontext.NewWorkflowScope("wf-2")
	ctx := wfcontext.WithWorkflowScope(context.Background(), scope)

	require.NoError(t, repo.Tracked(ctx, repository.TrackedOp{
		Type:         workflow.OperationNotification,
		ResourceType: "EmailOutbox",
	}, func(ctx context.Context) error { return nil }))

	require.Eventually(t, func() bool {
		ops, _ := log.GetAllOperations(context.Background(), "wf-2")
		return len(ops) == 1
	}, time.Second, 5*time.Millisecond)

	ops, _ := log.GetAllOperations(context.Background(), "wf-2")
	assert.Equal(t, "EmailOutbox", ops[0].ResourceType)
}

type failingOperationLog struct {
	repository.OperationLogRepository
}

func (f *failingOperationLog) LogOperation(ctx context.Context, op workflow.Operation) error {
	return errors.New("storage unavailable")
}

func TestTracked_LogFailureDoesNotAffectResult(t *testing.T) {
	log := &failingOperationLog{}
	repo := &AccountRepository{}
	repo.TrackedRepository = repository.NewTrackedRepository(repo, log, zap.NewNop())

	scope := wfcontext.NewWorkflowScope("wf-3")
	ctx := wfcontext.WithWorkflowScope(context.Background(), scope)

	require.NoError(t, repo.Save(ctx, "acct-1"))
	assert.Equal(t, []string{"acct-1"}, repo.saved)
}
