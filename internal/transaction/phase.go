// Package transaction orchestrates phased database transactions with
// adapter dispatch, ambient workflow scoping and post-commit event
// publishing hooks.
package transaction

// Phase identifies a point in the transaction lifecycle at which
// registered adapters are dispatched.
type Phase string

const (
	// PhaseBeforeBegin runs before the database transaction is opened.
	PhaseBeforeBegin Phase = "BEFORE_BEGIN"

	// PhaseAfterBegin runs just after the database transaction opened.
	PhaseAfterBegin Phase = "AFTER_BEGIN"

	// PhaseBeforeCommitValidation runs after the user body, before any
	// commit work. Critical failures here force a rollback.
	PhaseBeforeCommitValidation Phase = "BEFORE_COMMIT_VALIDATION"

	// PhaseBeforeCommit runs inside the database transaction, immediately
	// before commit.
	PhaseBeforeCommit Phase = "BEFORE_COMMIT"

	// PhaseAfterCommit runs outside the database transaction; failures are
	// logged but never un-commit.
	PhaseAfterCommit Phase = "AFTER_COMMIT"

	// PhaseOnRollback runs right after the database transaction rolled back.
	PhaseOnRollback Phase = "ON_ROLLBACK"

	// PhaseAfterRollback runs last on the rollback path.
	PhaseAfterRollback Phase = "AFTER_ROLLBACK"
)

// SuccessPhases is the phase sequence of a committing transaction.
var SuccessPhases = []Phase{
	PhaseBeforeBegin,
	PhaseAfterBegin,
	PhaseBeforeCommitValidation,
	PhaseBeforeCommit,
	PhaseAfterCommit,
}
