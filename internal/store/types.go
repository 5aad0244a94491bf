package store

import "time"

// ChangeType is the kind of entity a processing-item journal row concerns.
type ChangeType int

const (
	ChangeTypeFile ChangeType = iota
	ChangeTypeDirectory
)

// ChangeOperation is the operation a processing-item journal row
// records, per spec §4.4 (create/update squash, move+rename collapse).
type ChangeOperation int

const (
	OpCreate ChangeOperation = iota
	OpUpdate
	OpDelete
	OpMove
	OpRename
)

func (o ChangeOperation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ProcessingStatus is a processing-item's position in the state machine
// defined by spec §4.4.5: new -> validated -> processing -> done/conflicted/
// error/retry/cancelled.
type ProcessingStatus int

const (
	StatusNew ProcessingStatus = iota
	StatusValidated
	StatusProcessing
	StatusDone
	StatusConflicted
	StatusError
	StatusRetry
	StatusCancelled
)

func (s ProcessingStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusValidated:
		return "validated"
	case StatusProcessing:
		return "processing"
	case StatusDone:
		return "done"
	case StatusConflicted:
		return "conflicted"
	case StatusError:
		return "error"
	case StatusRetry:
		return "retry"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Item is one row of the item table (spec §3, component 1): the durable
// metadata snapshot for a file or directory, local or remote.
type Item struct {
	ID          string `json:"id"`
	ParentID    string `json:"parentId"`
	Name        string `json:"name"`
	IsDir       bool   `json:"isDir"`
	Size        uint64 `json:"size"`
	Mode        uint32 `json:"mode"`
	Inode       uint64 `json:"inode"`
	ETag        string `json:"eTag"`
	CTag        string `json:"cTag"`
	ModTime     time.Time `json:"modTime"`
	Deleted     bool   `json:"deleted"`
	HasChanges  bool   `json:"hasChanges"`
	Children    []string `json:"children,omitempty"`
}

// IsLocalID reports whether id is a not-yet-uploaded temporary identifier
// (spec's "local_<uuid>" scheme).
func IsLocalID(id string) bool {
	return len(id) > 6 && id[:6] == "local_"
}

// ChangeSource identifies which side of the sync originated a processing
// item: the filesystem (local mutation awaiting upload) or the delta
// processor (remote mutation awaiting local application). Zero value is
// Local, since the filesystem is the dominant producer of journal rows.
type ChangeSource int

const (
	SourceLocal ChangeSource = iota
	SourceRemote
)

func (s ChangeSource) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// ProcessingItem is one row of the processing-item journal: a pending local
// mutation awaiting upload or remote change awaiting local application (see
// Source), plus its state-machine position and retry count.
type ProcessingItem struct {
	Seq        uint64          `json:"seq"`
	ItemID     string          `json:"itemId"`
	ChangeType ChangeType      `json:"changeType"`
	Operation  ChangeOperation `json:"operation"`
	Source      ChangeSource   `json:"source"`
	Status     ProcessingStatus `json:"status"`
	OldParentID string         `json:"oldParentId,omitempty"`
	OldName     string         `json:"oldName,omitempty"`
	Priority    int            `json:"priority"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"lastError,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// SyncState is the singleton sync-state row: the delta cursor and the
// timestamps the scheduler and D-Bus status surface report.
type SyncState struct {
	DeltaCursor  string    `json:"deltaCursor"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
	LastFullScan time.Time `json:"lastFullScan"`
}
