// Package buildinfo carries build-time metadata injected through ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Info contains build-time metadata that is not user-configurable.
type Info struct {
	// Version is the Git version tag of the build.
	Version string
	// BuildDate is the time the binary was built.
	BuildDate string
	// Commit is the short Git revision.
	Commit string
}

// New creates build metadata.
func New(version, buildDate, commit string) *Info {
	return &Info{Version: version, BuildDate: buildDate, Commit: commit}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion returns the version or UnknownValue.
func (i *Info) GetVersion() string {
	if i == nil {
		return UnknownValue
	}
	return orUnknown(i.Version)
}

// GetBuildDate returns the build date or UnknownValue.
func (i *Info) GetBuildDate() string {
	if i == nil {
		return UnknownValue
	}
	return orUnknown(i.BuildDate)
}

// GetCommit returns the revision or UnknownValue.
func (i *Info) GetCommit() string {
	if i == nil {
		return UnknownValue
	}
	return orUnknown(i.Commit)
}

// Release is the release name reported with errors.
func (i *Info) Release() string {
	return "trackwatch@" + i.GetVersion()
}

// String formats the metadata for --version output.
func (i *Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.GetVersion(), i.GetCommit(), i.GetBuildDate())
}
