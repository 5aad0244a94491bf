package vfs

import "strings"

// nonResidentSuffix marks, in directory listings and path lookups alike, a
// file whose content has not been hydrated locally yet - the resolved Open
// Question from spec.md: the suffix is applied consistently both when an
// entry is listed (ReadDirPlus/ReadDir) and when it's addressed directly by
// path (Lookup), so a listing and a subsequent open never disagree about a
// file's displayed name.
const nonResidentSuffix = ".onedrivedownload"

// displayName returns the name the kernel should see for an entry: name
// itself if its content is resident (or it's a directory), name with the
// non-resident suffix appended otherwise.
func displayName(name string, isDir, resident bool) string {
	if isDir || resident {
		return name
	}
	return name + nonResidentSuffix
}

// stripNonResidentSuffix removes a trailing nonResidentSuffix from name, if
// present, recovering the item's real stored name for a Lookup/Unlink/Rename
// call that arrived with the displayed (suffixed) name.
func stripNonResidentSuffix(name string) string {
	return strings.TrimSuffix(name, nonResidentSuffix)
}
