// Package engine hosts the dynamic scheduled-job execution engine.
//
// It owns three cooperating pieces:
//   - scheduler: one live cron entry per enabled job, cancel-then-schedule on
//     every mutation so a stale timer can never fire for a newer definition
//   - tracker: the execution ledger state machine
//     (PENDING -> RUNNING -> SUCCESS|FAILED), including the bounded retry
//     re-read of rows that may not be visible to the worker yet
//   - manager: the admin facade (CRUD, toggle, manual trigger, ledger reads)
//     that keeps live timers in lockstep with persisted state
//
// Scheduled fires run on a bounded worker pool; each manual trigger gets its
// own supervised goroutine so a flood of manual triggers cannot starve the
// schedule (and vice versa).
package engine
