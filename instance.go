/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Instance management for room sessions.
 * Uses sync.Map for thread-safe access from multiple goroutines.
 */
package main

import (
	"context"
	"sync"
	"time"

	"github.com/maiguangyang/classroom_core/pkg/media"
	"github.com/maiguangyang/classroom_core/pkg/mesh"
	"github.com/maiguangyang/classroom_core/pkg/signaling"
)

const leaveTimeout = 5 * time.Second

// sessionHandle bundles what the host owns for one room
type sessionHandle struct {
	roomID     string
	session    *mesh.RoomSession
	relay      *signaling.FuncRelay
	controller *media.Controller
}

// close leaves the room and releases the capture devices
func (h *sessionHandle) close() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	h.session.LeaveRoom(ctx)
	h.relay.Close()
	h.controller.Close()
}

var (
	// Room sessions: roomID -> *sessionHandle
	sessions sync.Map
)

// registerSession registers a session for a room
func registerSession(h *sessionHandle) {
	// Close existing session if any
	if existing, loaded := sessions.Swap(h.roomID, h); loaded {
		existing.(*sessionHandle).close()
	}
}

// getSession returns a session by room ID
func getSession(roomID string) *sessionHandle {
	if v, ok := sessions.Load(roomID); ok {
		return v.(*sessionHandle)
	}
	return nil
}

// unregisterSession removes and closes a session
func unregisterSession(roomID string) bool {
	v, ok := sessions.LoadAndDelete(roomID)
	if !ok {
		return false
	}
	v.(*sessionHandle).close()
	return true
}

// cleanupAllSessions closes all sessions
func cleanupAllSessions() {
	sessions.Range(func(key, value interface{}) bool {
		unregisterSession(key.(string))
		return true
	})
}
