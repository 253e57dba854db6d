//go:build cgo

// FFI exports for the mobile bridge. Strings returned to the caller are
// allocated with C.CString and must be released with FreeString.

package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"unsafe"
)

//export SyncInit
// SyncInit opens the engine with the config at configPath (empty for the
// default). Returns 0 on success, non-zero on error.
func SyncInit(configPath *C.char, assumeOnline C.int) C.int {
	if err := bridgeInit(C.GoString(configPath), assumeOnline != 0); err != nil {
		return 1
	}
	return 0
}

//export SyncShutdown
// SyncShutdown waits for a running drain and closes the engine.
func SyncShutdown() C.int {
	if err := bridgeShutdown(); err != nil {
		return 1
	}
	return 0
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	return C.CString(lastError())
}

//export SyncEnqueue
// SyncEnqueue queues a mutation. payload is a JSON object.
// Returns the stored record as JSON, or NULL on error.
func SyncEnqueue(id, payload *C.char) *C.char {
	return jsonResult(bridgeEnqueue(C.GoString(id), C.GoString(payload)))
}

//export SyncRemove
// SyncRemove drops a pending mutation. Returns 0 on success.
func SyncRemove(id *C.char) C.int {
	if err := bridgeRemove(C.GoString(id)); err != nil {
		return 1
	}
	return 0
}

//export SyncPending
// SyncPending returns {"items": [...], "total": n}, or NULL on error.
func SyncPending() *C.char {
	return jsonResult(bridgePending())
}

//export SyncRequest
// SyncRequest asks for a drain without waiting. Returns 0 on success.
func SyncRequest() C.int {
	if err := bridgeRequestSync(); err != nil {
		return 1
	}
	return 0
}

//export SyncNow
// SyncNow drains the queue and returns the outcome as JSON, or NULL on
// error. It blocks; call it from a background isolate.
func SyncNow() *C.char {
	return jsonResult(bridgeSyncNow())
}

//export SyncStatus
// SyncStatus returns the engine status as JSON, or NULL on error.
func SyncStatus() *C.char {
	return jsonResult(bridgeStatus())
}

//export SyncPollEvents
// SyncPollEvents returns and clears the events buffered since the last call.
func SyncPollEvents() *C.char {
	return jsonResult(bridgePollEvents())
}

//export CachePut
// CachePut caches length bytes of data under id. Returns 0 on success.
func CachePut(id *C.char, data unsafe.Pointer, length C.int) C.int {
	if err := bridgeCachePut(C.GoString(id), C.GoBytes(data, length)); err != nil {
		return 1
	}
	return 0
}

//export CacheGet
// CacheGet returns the cached bytes for id and stores their length in
// outLength. Returns NULL on a miss (outLength = 0) or an error
// (outLength = -1). The buffer must be freed with FreeString.
func CacheGet(id *C.char, outLength *C.int) *C.char {
	data, found, err := bridgeCacheGet(C.GoString(id))
	switch {
	case err != nil:
		*outLength = -1
		return nil
	case !found:
		*outLength = 0
		return nil
	}
	*outLength = C.int(len(data))
	return (*C.char)(C.CBytes(data))
}

//export FreeString
// FreeString frees a string allocated by Go.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func jsonResult(s string, err error) *C.char {
	if err != nil {
		return nil
	}
	return C.CString(s)
}
