//go:build darwin || freebsd || linux

package clap

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// rawHost mirrors clap_host, the struct a plugin keeps a pointer to for its
// whole lifetime. Instances are pinned until the owning handle is destroyed.
type rawHost struct {
	clapVersion rawVersion
	hostData    uintptr
	name        uintptr
	vendor      uintptr
	url         uintptr
	version     uintptr

	getExtension    uintptr
	requestRestart  uintptr
	requestProcess  uintptr
	requestCallback uintptr
}

// rawHostThreadCheck mirrors clap_host_thread_check.
type rawHostThreadCheck struct {
	isMainThread  uintptr
	isAudioThread uintptr
}

var (
	hostMu  sync.Mutex
	hostReg = map[uintptr]*hostBridge{}

	hostCBOnce          sync.Once
	cbHostGetExtension  uintptr
	cbRequestRestart    uintptr
	cbRequestProcess    uintptr
	cbRequestCallback   uintptr
	cbIsMainThread      uintptr
	cbIsAudioThread     uintptr
	threadCheckVTable   *rawHostThreadCheck
	threadCheckPin      runtime.Pinner
)

// initHostCallbacks creates the process-wide C callback trampolines once.
// purego callbacks are a finite resource and are never released, so every
// host instance shares these and is resolved through hostReg.
func initHostCallbacks() {
	hostCBOnce.Do(func() {
		cbRequestRestart = purego.NewCallback(func(host uintptr) uintptr {
			if b := lookupHost(host); b != nil {
				b.cb.RequestRestart()
			}
			return 0
		})
		cbRequestProcess = purego.NewCallback(func(host uintptr) uintptr {
			if b := lookupHost(host); b != nil {
				b.cb.RequestProcess()
			}
			return 0
		})
		cbRequestCallback = purego.NewCallback(func(host uintptr) uintptr {
			if b := lookupHost(host); b != nil {
				b.cb.RequestCallback()
			}
			return 0
		})
		cbIsMainThread = purego.NewCallback(func(host uintptr) uintptr {
			if b := lookupHost(host); b != nil && b.cb.IsMainThread() {
				return 1
			}
			return 0
		})
		cbIsAudioThread = purego.NewCallback(func(host uintptr) uintptr {
			if b := lookupHost(host); b != nil && b.cb.IsAudioThread() {
				return 1
			}
			return 0
		})

		threadCheckVTable = &rawHostThreadCheck{
			isMainThread:  cbIsMainThread,
			isAudioThread: cbIsAudioThread,
		}
		threadCheckPin.Pin(threadCheckVTable)

		cbHostGetExtension = purego.NewCallback(func(host, id uintptr) uintptr {
			if goString(id) == ExtThreadCheck {
				return uintptr(unsafe.Pointer(threadCheckVTable))
			}
			return 0
		})
	})
}

func lookupHost(host uintptr) *hostBridge {
	hostMu.Lock()
	defer hostMu.Unlock()
	return hostReg[host]
}

// hostBridge owns one pinned rawHost and routes its callbacks to a
// HostCallbacks implementation. The plugin dereferences the struct and its
// string fields at arbitrary times, so everything stays pinned until
// release.
type hostBridge struct {
	cb   HostCallbacks
	raw  *rawHost
	pin  runtime.Pinner
	strs [][]byte
}

func newHostBridge(cb HostCallbacks) *hostBridge {
	initHostCallbacks()

	b := &hostBridge{cb: cb}
	b.raw = &rawHost{
		clapVersion:     rawVersion{HostVersion.Major, HostVersion.Minor, HostVersion.Revision},
		name:            b.pinCString(hostName),
		vendor:          b.pinCString(hostVendor),
		url:             b.pinCString(hostURL),
		version:         b.pinCString(hostVersion),
		getExtension:    cbHostGetExtension,
		requestRestart:  cbRequestRestart,
		requestProcess:  cbRequestProcess,
		requestCallback: cbRequestCallback,
	}
	b.pin.Pin(b.raw)

	hostMu.Lock()
	hostReg[b.hostPtr()] = b
	hostMu.Unlock()
	return b
}

func (b *hostBridge) pinCString(s string) uintptr {
	buf := append([]byte(s), 0)
	b.pin.Pin(&buf[0])
	b.strs = append(b.strs, buf)
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (b *hostBridge) hostPtr() uintptr {
	return uintptr(unsafe.Pointer(b.raw))
}

func (b *hostBridge) release() {
	hostMu.Lock()
	delete(hostReg, b.hostPtr())
	hostMu.Unlock()
	b.pin.Unpin()
}
