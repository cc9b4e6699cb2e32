//go:build darwin || freebsd || linux

package clap

import (
	"errors"
	"fmt"
	"unicode/utf8"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Identity the validator presents to plugins through the clap_host struct.
const (
	hostName    = "clapcheck"
	hostVendor  = "clapcheck"
	hostURL     = "https://github.com/clapcheck/clapcheck"
	hostVersion = "1.0.0"
)

// rawVersion mirrors clap_version.
type rawVersion struct {
	major    uint32
	minor    uint32
	revision uint32
}

// rawEntry mirrors clap_plugin_entry, the struct exported under the
// "clap_entry" symbol.
type rawEntry struct {
	version    rawVersion
	init       uintptr
	deinit     uintptr
	getFactory uintptr
}

// rawFactory mirrors clap_plugin_factory.
type rawFactory struct {
	getPluginCount      uintptr
	getPluginDescriptor uintptr
	createPlugin        uintptr
}

// rawDescriptor mirrors clap_plugin_descriptor.
type rawDescriptor struct {
	clapVersion rawVersion
	id          uintptr
	name        uintptr
	vendor      uintptr
	url         uintptr
	manualURL   uintptr
	supportURL  uintptr
	version     uintptr
	description uintptr
	features    uintptr
}

type nativeLibrary struct {
	path   string
	handle uintptr
	entry  *rawEntry

	entryDeinit     func()
	entryGetFactory func(id string) uintptr

	factory           uintptr
	factoryCount      func(factory uintptr) uint32
	factoryDescriptor func(factory uintptr, index uint32) uintptr
	factoryCreate     func(factory uintptr, host uintptr, id string) uintptr

	closed bool
}

// Open loads a plugin library, resolves clap_entry and initializes it.
// The path should be absolute: plugins receive it verbatim through
// clap_plugin_entry.init and may use it to locate bundled resources.
func Open(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}

	sym, err := purego.Dlsym(handle, EntrySymbol)
	if err != nil || sym == 0 {
		purego.Dlclose(handle)
		if err == nil {
			err = errors.New("symbol is null")
		}
		return nil, fmt.Errorf("resolving %s in %s: %w", EntrySymbol, path, err)
	}

	entry := (*rawEntry)(unsafe.Pointer(sym))
	version := Version{entry.version.major, entry.version.minor, entry.version.revision}
	if !version.Compatible() {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("%s declares incompatible CLAP version %s", path, version)
	}
	if entry.init == 0 || entry.deinit == 0 || entry.getFactory == 0 {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("%s has a null function in clap_entry", path)
	}

	lib := &nativeLibrary{path: path, handle: handle, entry: entry}
	var entryInit func(path string) bool
	purego.RegisterFunc(&entryInit, entry.init)
	purego.RegisterFunc(&lib.entryDeinit, entry.deinit)
	purego.RegisterFunc(&lib.entryGetFactory, entry.getFactory)

	if !entryInit(path) {
		purego.Dlclose(handle)
		return nil, fmt.Errorf("clap_entry.init returned false for %s", path)
	}
	return lib, nil
}

// OpenImmediate loads the library with immediate, non-lazy symbol binding
// and unloads it again. A failure means the library references symbols the
// dynamic linker cannot resolve.
func OpenImmediate(path string) error {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return fmt.Errorf("dlopen with immediate binding: %w", err)
	}
	purego.Dlclose(handle)
	return nil
}

func (l *nativeLibrary) EntryVersion() Version {
	return Version{l.entry.version.major, l.entry.version.minor, l.entry.version.revision}
}

func (l *nativeLibrary) pluginFactory() (uintptr, error) {
	if l.factory != 0 {
		return l.factory, nil
	}
	f := l.entryGetFactory(PluginFactoryID)
	if f == 0 {
		return 0, fmt.Errorf("%s does not expose the %q factory", l.path, PluginFactoryID)
	}
	raw := (*rawFactory)(unsafe.Pointer(f))
	if raw.getPluginCount == 0 || raw.getPluginDescriptor == 0 || raw.createPlugin == 0 {
		return 0, fmt.Errorf("%s has a null function in its plugin factory", l.path)
	}
	purego.RegisterFunc(&l.factoryCount, raw.getPluginCount)
	purego.RegisterFunc(&l.factoryDescriptor, raw.getPluginDescriptor)
	purego.RegisterFunc(&l.factoryCreate, raw.createPlugin)
	l.factory = f
	return f, nil
}

func (l *nativeLibrary) Descriptors() ([]Descriptor, error) {
	f, err := l.pluginFactory()
	if err != nil {
		return nil, err
	}

	count := l.factoryCount(f)
	descriptors := make([]Descriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		ptr := l.factoryDescriptor(f, i)
		if ptr == 0 {
			return nil, fmt.Errorf("factory returned a null descriptor at index %d of %d", i, count)
		}
		desc, err := readDescriptor(ptr)
		if err != nil {
			return nil, fmt.Errorf("descriptor at index %d: %w", i, err)
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

func (l *nativeLibrary) FactoryExists(factoryID string) bool {
	return l.entryGetFactory(factoryID) != 0
}

func (l *nativeLibrary) CreateInstance(host HostCallbacks, pluginID string) (Handle, error) {
	f, err := l.pluginFactory()
	if err != nil {
		return nil, err
	}

	bridge := newHostBridge(host)
	ptr := l.factoryCreate(f, bridge.hostPtr(), pluginID)
	if ptr == 0 {
		bridge.release()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, pluginID)
	}
	return newNativeHandle(ptr, bridge)
}

func (l *nativeLibrary) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.entryDeinit()
	return purego.Dlclose(l.handle)
}

// readDescriptor copies one clap_plugin_descriptor out of native memory.
// Null string fields are recorded in AbsentFields; invalid UTF-8 in any
// field is an error because downstream consumers serialize descriptors.
func readDescriptor(ptr uintptr) (Descriptor, error) {
	raw := (*rawDescriptor)(unsafe.Pointer(ptr))
	var d Descriptor

	fields := []struct {
		name string
		addr uintptr
		dst  *string
	}{
		{"id", raw.id, &d.ID},
		{"name", raw.name, &d.Name},
		{"vendor", raw.vendor, &d.Vendor},
		{"url", raw.url, &d.URL},
		{"manual_url", raw.manualURL, &d.ManualURL},
		{"support_url", raw.supportURL, &d.SupportURL},
		{"version", raw.version, &d.Version},
		{"description", raw.description, &d.Description},
	}
	for _, f := range fields {
		if f.addr == 0 {
			d.AbsentFields = append(d.AbsentFields, f.name)
			continue
		}
		s := goString(f.addr)
		if !utf8.ValidString(s) {
			return d, fmt.Errorf("field %q contains invalid UTF-8", f.name)
		}
		*f.dst = s
	}

	if raw.features == 0 {
		d.AbsentFields = append(d.AbsentFields, "features")
		return d, nil
	}
	features, err := goStringArray(raw.features)
	if err != nil {
		return d, fmt.Errorf("features array: %w", err)
	}
	d.Features = features
	return d, nil
}

// goString copies a null-terminated C string.
func goString(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(addr + uintptr(n))) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
}

// goStringArray copies a null-terminated array of C strings.
func goStringArray(addr uintptr) ([]string, error) {
	out := []string{}
	for i := 0; ; i++ {
		p := *(*uintptr)(unsafe.Pointer(addr + uintptr(i)*unsafe.Sizeof(uintptr(0))))
		if p == 0 {
			return out, nil
		}
		s := goString(p)
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("entry %d contains invalid UTF-8", i)
		}
		out = append(out, s)
	}
}

// goStringFixed copies a null-terminated string out of a fixed-size char
// array, erroring when no terminator is present within the buffer.
func goStringFixed(buf []byte) (string, error) {
	for i, b := range buf {
		if b == 0 {
			s := string(buf[:i])
			if !utf8.ValidString(s) {
				return "", errors.New("invalid UTF-8")
			}
			return s, nil
		}
	}
	return "", errors.New("missing null terminator")
}
