// Package clap models the CLAP C ABI: entry point, plugin factory,
// descriptors, and the per-instance function tables. All raw pointer
// dispatch is confined to this package behind typed interfaces; callers
// (loader, host wrapper, test cases) never touch native memory directly.
package clap

import "fmt"

// Well-known identifiers from the CLAP headers.
const (
	EntrySymbol     = "clap_entry"
	PluginFactoryID = "clap.plugin-factory"

	ExtParams     = "clap.params"
	ExtState      = "clap.state"
	ExtAudioPorts = "clap.audio-ports"
	ExtNotePorts  = "clap.note-ports"
	ExtThreadCheck = "clap.thread-check"
)

// String capacity constants from clap/string-sizes.h.
const (
	NameSize = 256
	PathSize = 1024
)

// Version is the semantic ABI version carried by entries, descriptors and
// the host struct.
type Version struct {
	Major    uint32 `json:"major"`
	Minor    uint32 `json:"minor"`
	Revision uint32 `json:"revision"`
}

// HostVersion is the CLAP version this validator declares to plugins.
var HostVersion = Version{Major: 1, Minor: 2, Revision: 2}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Compatible reports whether a plugin built against version v can be hosted.
// Versions before 1.0.0 predate the stable ABI and are rejected.
func (v Version) Compatible() bool {
	return v.Major >= 1
}

// Main-category feature tags from clap/plugin-features.h. Every plugin is
// expected to declare at least one of these.
var MainCategoryFeatures = []string{
	"instrument",
	"audio-effect",
	"note-effect",
	"note-detector",
	"analyzer",
}
