package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/host"
	"github.com/clapcheck/clapcheck/internal/loader"
)

// scanTimeLimit is how long a full load, factory scan, and unload may take
// before the library earns a warning. DAWs scan hundreds of plugins on
// startup, so anything slower than this adds up fast.
const scanTimeLimit = 100 * time.Millisecond

// trailingGarbageAttempts bounds the search for an unused fake plugin ID.
const trailingGarbageAttempts = 100

func init() {
	register(Case{
		ID:          "scan-time",
		Kind:        KindLibrary,
		Category:    CategoryLifecycle,
		Description: fmt.Sprintf("Checks whether the plugin can be scanned in under %d milliseconds.", scanTimeLimit.Milliseconds()),
		Run:         runScanTime,
	})
	register(Case{
		ID:          "scan-rtld-now",
		Kind:        KindLibrary,
		Category:    CategoryLifecycle,
		Description: "Checks whether the plugin loads correctly when loaded using 'dlopen(..., RTLD_LOCAL | RTLD_NOW)'. Only run on Unix-like platforms.",
		Run:         runScanRtldNow,
	})
	register(Case{
		ID:          "query-factory-nonexistent",
		Kind:        KindLibrary,
		Category:    CategoryFactory,
		Description: "Tries to query a factory from the plugin's entry point with a non-existent ID. This should return a null pointer.",
		Run:         runQueryNonexistentFactory,
	})
	register(Case{
		ID:          "create-id-with-trailing-garbage",
		Kind:        KindLibrary,
		Category:    CategoryFactory,
		Description: "Attempts to create a plugin instance using an existing plugin ID with some extra text appended to the end. This should return a null pointer.",
		Run:         runCreateIDWithTrailingGarbage,
	})
	register(Case{
		ID:          "duplicate-plugin-id",
		Kind:        KindLibrary,
		Category:    CategoryFactory,
		Description: "Verifies that no two plugins exposed by the factory share the same plugin ID.",
		Run:         runDuplicatePluginID,
	})
}

// runScanTime mimics a DAW's scanning pass: load the library, read every
// descriptor, and unload again, all under the clock.
func runScanTime(env *Env, path, _ string) Verdict {
	start := time.Now()

	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return Fail(err)
	}
	meta, err := lib.Metadata()
	if err != nil {
		lib.Close()
		return Fail(err)
	}
	if err := lib.Close(); err != nil {
		return Fail(err)
	}
	elapsed := time.Since(start)

	if !meta.Version.Compatible() {
		return Skipf("'%s' uses an unsupported CLAP version (%s)", path, meta.Version)
	}

	millis := elapsed.Milliseconds()
	if elapsed > scanTimeLimit {
		return Warnf("The plugin took %d milliseconds to scan", millis)
	}
	unit := "milliseconds"
	if millis == 1 {
		unit = "millisecond"
	}
	return Passf("The plugin can be scanned in %d %s.", millis, unit)
}

// runScanRtldNow loads the library with immediate symbol binding. Symbols
// the plugin cannot resolve would otherwise only surface when lazy binding
// happens to touch them mid-session.
func runScanRtldNow(env *Env, path, _ string) Verdict {
	if err := env.CheckBinding(path); err != nil {
		if errors.Is(err, clap.ErrUnsupportedPlatform) {
			return Skipf("This test is only relevant to platforms with immediate symbol binding.")
		}
		return Fail(err)
	}
	return Pass()
}

func runQueryNonexistentFactory(env *Env, path, _ string) Verdict {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return Fail(err)
	}
	defer lib.Close()

	// Intentionally real randomness rather than the seeded generator: no
	// plugin should recognize this ID no matter what it is.
	factoryID := fmt.Sprintf("foo-factory-%d", rand.Uint64())
	if lib.FactoryExists(factoryID) {
		return Failf("Querying a factory with the non-existent factory ID '%s' should return a null pointer, but the plugin returned a non-null pointer instead. The plugin may be unconditionally returning the plugin factory.", factoryID)
	}
	return Pass()
}

func runCreateIDWithTrailingGarbage(env *Env, path, _ string) Verdict {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return Fail(err)
	}
	defer lib.Close()

	meta, err := lib.Metadata()
	if err != nil {
		return Fail(err)
	}
	if !meta.Version.Compatible() {
		return Skipf("'%s' uses an unsupported CLAP version (%s)", path, meta.Version)
	}
	if len(meta.Plugins) == 0 {
		return Skipf("The plugin library does not expose any plugins.")
	}

	// Take the first real plugin ID and append a suffix until we find one
	// the factory does not actually expose.
	base := meta.Plugins[0].ID
	fakeID := ""
	for n := 1; n <= trailingGarbageAttempts; n++ {
		candidate := fmt.Sprintf("%sx%d", base, n)
		if _, exists := meta.Descriptor(candidate); !exists {
			fakeID = candidate
			break
		}
	}
	if fakeID == "" {
		return Skipf("Could not come up with an unused fake plugin ID.")
	}

	handle, err := lib.CreateInstance(host.NewHost(), fakeID)
	if err == nil {
		handle.Destroy()
		return Failf("Creating a plugin instance with a non-existent plugin ID '%s' should return a null pointer, but it did not.", fakeID)
	}
	return Pass()
}

func runDuplicatePluginID(env *Env, path, _ string) Verdict {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return Fail(err)
	}
	defer lib.Close()

	// Metadata rejects duplicate IDs and malformed descriptors before any
	// instantiation happens.
	if _, err := lib.Metadata(); err != nil {
		return Fail(err)
	}
	return Pass()
}
