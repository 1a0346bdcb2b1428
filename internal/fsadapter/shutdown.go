// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fsadapter

import (
	"fmt"
	"sync/atomic"
)

// shutdownState is an explicit int32 state machine tracking a mount's
// lifecycle: Running -> Draining -> UnmountRequested -> UnmountVerified ->
// Stopped. Held with sync/atomic so any goroutine can observe progress
// without taking the inode table's lock.
type shutdownState struct {
	v atomic.Int32
}

const (
	stateRunning int32 = iota
	stateDraining
	stateUnmountRequested
	stateUnmountVerified
	stateStopped
)

var stateNames = [...]string{
	stateRunning:          "Running",
	stateDraining:         "Draining",
	stateUnmountRequested: "UnmountRequested",
	stateUnmountVerified:  "UnmountVerified",
	stateStopped:          "Stopped",
}

func (s *shutdownState) current() int32 {
	return s.v.Load()
}

// advance moves the state machine forward to next, refusing to move
// backward. It is a no-op if the state machine is already at or past next.
func (s *shutdownState) advance(next int32) {
	for {
		cur := s.v.Load()
		if cur >= next {
			return
		}
		if s.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (s *shutdownState) String() string {
	v := s.current()
	if int(v) < len(stateNames) {
		return stateNames[v]
	}
	return fmt.Sprintf("unknown(%d)", v)
}

// BeginDraining transitions Running -> Draining, the point at which new
// mutating ops should start failing fast so in-flight work can finish.
func (fs *FileSystem) BeginDraining() {
	fs.shutdown.advance(stateDraining)
}

// RequestUnmount transitions Draining -> UnmountRequested, signaling that
// the mount driver has asked the kernel to unmount.
func (fs *FileSystem) RequestUnmount() {
	fs.shutdown.advance(stateUnmountRequested)
}

// ConfirmUnmount transitions UnmountRequested -> UnmountVerified, signaling
// the mount point no longer appears in the host mount table.
func (fs *FileSystem) ConfirmUnmount() {
	fs.shutdown.advance(stateUnmountVerified)
}

// ShutdownState reports the current lifecycle state as a string, for
// logging and diagnostics.
func (fs *FileSystem) ShutdownState() string {
	return fs.shutdown.String()
}

// Draining reports whether the filesystem has begun shutting down, past
// which point mutating ops are refused with ENOSYS so the kernel stops
// dispatching them and in-flight work can finish.
func (fs *FileSystem) Draining() bool {
	return fs.shutdown.current() >= stateDraining
}
