package vfs

import "github.com/google/uuid"

// newLocalSuffix generates the random portion of a "local_<uuid>" temporary
// identifier handed to items created locally before they've been uploaded.
func newLocalSuffix() string {
	return uuid.NewString()
}
