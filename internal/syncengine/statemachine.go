package syncengine

import (
	"fmt"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

// transitions enumerates every legal ProcessingStatus move:
//
//	new ──validate──► validated ──execute──► processing ──success──► done
//	  │                    │                              │
//	  │                    └──conflict──► conflicted ─user-decision─► validated
//	  │                                                   │
//	  └──invalid──► conflicted                            └──cancel──► cancelled
//	                                                      │
//	                                                      └──fail──► retry ──backoff──► new
//	                                                                   │
//	                                                                   └──max-retries──► error
//
// A processor that tries to move a journal row outside this table has a bug,
// not a retryable condition - Advance returns an error rather than silently
// applying it.
var transitions = map[store.ProcessingStatus]map[store.ProcessingStatus]bool{
	store.StatusNew: {
		store.StatusValidated:  true,
		store.StatusConflicted: true,
	},
	store.StatusValidated: {
		store.StatusProcessing: true,
		store.StatusConflicted: true,
	},
	store.StatusProcessing: {
		store.StatusDone:  true,
		store.StatusRetry: true,
	},
	store.StatusConflicted: {
		store.StatusValidated: true,
		store.StatusCancelled: true,
	},
	store.StatusRetry: {
		store.StatusNew:   true,
		store.StatusError: true,
	},
}

// Advance validates and persists a ProcessingStatus transition for the
// journal row identified by seq. A non-nil lastErr is recorded as the row's
// LastError whatever the target status; the move to StatusConflicted uses it
// to carry the first validation defect.
func Advance(journal *store.JournalRepository, seq uint64, to store.ProcessingStatus, lastErr error) error {
	item, err := journal.Get(seq)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("syncengine: no journal entry for seq %d", seq)
	}
	if !transitions[item.Status][to] {
		return fmt.Errorf("syncengine: illegal transition %s -> %s for seq %d", item.Status, to, seq)
	}

	return journal.UpdateStatus(seq, to, lastErr)
}

// MaxAttempts bounds how many times a failed item is retried before it is
// parked as Error rather than retried forever (the "max-retries" edge from
// retry to error).
const MaxAttempts = 5

// NextOnRetry decides whether a processing item parked in StatusRetry should
// be rolled back to StatusNew for another drain pass, or given up on as
// StatusError, based on how many attempts it has already made.
func NextOnRetry(item *store.ProcessingItem) store.ProcessingStatus {
	if item.Attempts >= MaxAttempts {
		return store.StatusError
	}
	return store.StatusNew
}
