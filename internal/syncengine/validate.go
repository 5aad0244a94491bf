package syncengine

import (
	"fmt"

	"github.com/onedrivefs/onedrivefs/internal/store"
)

// ValidationError is one accumulated defect found while validating a
// processing item (spec §4.4.1). Kind matches one of the fixed categories
// below so the sync processor and the IPC surface can switch on it without
// string matching.
type ValidationError struct {
	Kind   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

const (
	KindTreeInvalid     = "tree-invalid"
	KindNameCollision   = "name-collision"
	KindContentConflict = "content-conflict"
)

// Validate runs the three accumulating checks against a processing item and
// its current item-table snapshot, returning every defect found (nil if
// none). It never mutates state; callers decide what to do with the result.
func Validate(items *store.ItemRepository, journal *store.JournalRepository, pi *store.ProcessingItem) ([]*ValidationError, error) {
	var errs []*ValidationError

	item, err := items.Get(pi.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		// A delete racing ahead of its own create can legitimately find
		// nothing left to validate; treat it as tree-invalid rather than
		// panicking on a nil dereference below.
		errs = append(errs, &ValidationError{Kind: KindTreeInvalid, Detail: "item no longer present: " + pi.ItemID})
		return errs, nil
	}

	if item.ParentID != "" && item.ParentID != "root" {
		parent, err := items.Get(item.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Deleted {
			errs = append(errs, &ValidationError{Kind: KindTreeInvalid, Detail: "parent missing or deleted: " + item.ParentID})
		}
	}

	siblings, err := items.Children(item.ParentID)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.ID != item.ID && sibling.Name == item.Name {
			errs = append(errs, &ValidationError{Kind: KindNameCollision, Detail: fmt.Sprintf("%q already exists under %s", item.Name, item.ParentID)})
			break
		}
	}

	if item.HasChanges && pi.Source == store.SourceRemote {
		errs = append(errs, &ValidationError{Kind: KindContentConflict, Detail: "local edits pending while remote change arrives for " + item.ID})
	} else if item.HasChanges && pi.Source == store.SourceLocal {
		// The vice-versa case: this row is the local edit itself, so
		// item.HasChanges is trivially true for it. What makes it a genuine
		// conflict is a remote change also in flight for the same item - a
		// still-pending download-queue entry from the delta processor.
		siblings, err := journal.PendingForItem(pi.ItemID)
		if err != nil {
			return nil, err
		}
		for _, sib := range siblings {
			if sib.Seq != pi.Seq && sib.Source == store.SourceRemote {
				errs = append(errs, &ValidationError{Kind: KindContentConflict, Detail: "remote change pending while local edit arrives for " + item.ID})
				break
			}
		}
	}

	return errs, nil
}
