/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Classroom Core - P2P media mesh for the virtual classroom
 * This is the main entry point for C-shared library exports.
 * All functions with //export comments are exposed to Dart FFI.
 *
 * Session exports live in session_ffi.go, codec helpers in codec_ffi.go.
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>

// Callback function types for events
typedef void (*EventCallback)(int eventType, const char* roomId, const char* peerId, const char* data);
typedef void (*LogCallback)(int level, const char* message);

// Store the callbacks
static EventCallback eventCallback = NULL;
static LogCallback logCallback = NULL;

// Setter functions
static void setEventCallback(EventCallback cb) {
    eventCallback = cb;
}

static void setLogCallback(LogCallback cb) {
    logCallback = cb;
}

// Caller functions (to be called from Go)
static void callEventCallback(int eventType, const char* roomId, const char* peerId, const char* data) {
    if (eventCallback != NULL) {
        eventCallback(eventType, roomId, peerId, data);
    }
}

static void callLogCallback(int level, const char* message) {
    if (logCallback != NULL) {
        logCallback(level, message);
    }
}
*/
import "C"

import (
	"unsafe"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// Event types for callbacks
const (
	EventTypePeerJoined      = 1 // 成员加入（roster 变化）
	EventTypePeerLeft        = 2
	EventTypeTrackAdded      = 3
	EventTypeError           = 4
	EventTypeSignal          = 5 // 出站信令，宿主负责发给 relay
	EventTypePeerState       = 6
	EventTypeStreamAdded     = 7
	EventTypeStreamRemoved   = 8
	EventTypeTrackEnded      = 9
	EventTypeTrackMuted      = 10
	EventTypeTrackUnmuted    = 11
	EventTypeRosterChanged   = 12
	EventTypeLocalMediaState = 13
)

// ==========================================
// Callback Registration
// ==========================================

//export MeshSetEventCallback
func MeshSetEventCallback(callback C.EventCallback) {
	C.setEventCallback(callback)
	utils.Info("Event callback registered")
}

//export MeshSetLogCallback
func MeshSetLogCallback(callback C.LogCallback) {
	C.setLogCallback(callback)

	// Also set the Go logger callback
	utils.SetCallback(func(level utils.LogLevel, message string) {
		cMessage := C.CString(message)
		// Do not free cMessage here; it must be freed by the Dart side to avoid Use-After-Free
		// in async callbacks.
		C.callLogCallback(C.int(level), cMessage)
	})

	utils.Info("Log callback registered")
}

//export MeshSetLogLevel
func MeshSetLogLevel(level C.int) {
	utils.SetLevel(utils.LogLevel(level))
}

// ==========================================
// Utility Functions
// ==========================================

//export FreeString
func FreeString(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export MeshCleanupAll
func MeshCleanupAll() {
	cleanupAllSessions()
	utils.Info("All resources cleaned up")
}

//export GetVersion
func GetVersion() *C.char {
	return C.CString("1.0.0-mesh")
}

// emitEvent sends an event through the callback
func emitEvent(eventType int, roomID, peerID, data string) {
	cRoomID := C.CString(roomID)
	cPeerID := C.CString(peerID)
	cData := C.CString(data)

	defer C.free(unsafe.Pointer(cRoomID))
	defer C.free(unsafe.Pointer(cPeerID))
	defer C.free(unsafe.Pointer(cData))

	C.callEventCallback(C.int(eventType), cRoomID, cPeerID, cData)
}

// main is required but not used for c-shared library
func main() {}
