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

package backend

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// parseDirentNames extracts file names from a raw Linux getdents64 buffer.
func parseDirentNames(buf []byte) []string {
	var names []string
	off := 0
	for off < len(buf) {
		if off+19 > len(buf) {
			break
		}
		reclen := binary.NativeEndian.Uint16(buf[off+16 : off+18])
		if reclen == 0 || off+int(reclen) > len(buf) {
			break
		}
		nameBuf := buf[off+19 : off+int(reclen)]
		if i := bytes.IndexByte(nameBuf, 0); i >= 0 {
			nameBuf = nameBuf[:i]
		}
		if len(nameBuf) > 0 {
			names = append(names, string(nameBuf))
		}
		off += int(reclen)
	}
	return names
}

// removeAllPosix recursively removes dir and its contents using raw
// syscalls, the Posix backend's analog of os.RemoveAll.
func removeAllPosix(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return err
	}
	buf := make([]byte, 8192)
	var children []string
	for {
		n, err := unix.Getdents(fd, buf)
		if err != nil {
			unix.Close(fd)
			return err
		}
		if n == 0 {
			break
		}
		children = append(children, parseDirentNames(buf[:n])...)
	}
	unix.Close(fd)

	for _, name := range children {
		if name == "." || name == ".." {
			continue
		}
		child := dir + "/" + name
		var st unix.Stat_t
		if err := unix.Lstat(child, &st); err != nil {
			continue
		}
		if st.Mode&unix.S_IFMT == unix.S_IFDIR {
			if err := removeAllPosix(child); err != nil {
				return err
			}
		} else if err := unix.Unlink(child); err != nil && err != unix.ENOENT {
			return err
		}
	}
	if err := unix.Rmdir(dir); err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}
