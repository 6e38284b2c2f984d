// Package artifact locates the binaries a successful build produced and
// assigns each its flash offset, emitting a manifest that flashing tools
// consume directly.
package artifact

import "time"

// Artifact is one flashable binary from a build output directory.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"` // relative to the build directory
	Offset uint32 `json:"offset"`
	Size   int64  `json:"size"`
}

// Manifest is the flashable-image description written next to the binaries.
// The shape matches what web-based flashers expect.
type Manifest struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Builds  []Build `json:"builds"`
}

// Build groups the parts for one chip family.
type Build struct {
	ChipFamily string `json:"chipFamily"`
	Parts      []Part `json:"parts"`
}

// Part is a single binary at its flash offset.
type Part struct {
	Path   string `json:"path"`
	Offset uint32 `json:"offset"`
}

// Resolution is the full result of resolving a build directory.
type Resolution struct {
	Artifacts    []Artifact
	Manifest     Manifest
	ManifestPath string
	ResolvedAt   time.Time
}
