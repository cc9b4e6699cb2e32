//go:build !(darwin || freebsd || linux)

package clap

// Open is unavailable without dlopen. The loader surfaces this as a
// LoadError for the affected library.
func Open(path string) (Library, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenImmediate is unavailable without dlopen; the symbol resolution test
// resolves to Skip.
func OpenImmediate(path string) error {
	return ErrUnsupportedPlatform
}
