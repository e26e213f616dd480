// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys maps the running platform onto the ZIP "version made by"
// host system identifiers.
package sys

// HostSystem represents the host system on which the ZIP file was created
type HostSystem uint8

// Host systems written or recognized by the archive layer.
const (
	HostSystemFAT    HostSystem = 0  // MS-DOS and OS/2 (FAT / VFAT / FAT32 file systems)
	HostSystemUNIX   HostSystem = 3  // UNIX
	HostSystemNTFS   HostSystem = 10 // Windows NTFS
	HostSystemDarwin HostSystem = 19 // OS X (Darwin)
)

// SpecVersion is the ZIP specification version encoded in the low byte
// of "version made by". 4.5 is the first version defining ZIP64.
const SpecVersion uint16 = 45

// String representation of HostSystem for debugging
func (h HostSystem) String() string {
	switch h {
	case HostSystemFAT:
		return "MS-DOS/OS2 (FAT)"
	case HostSystemUNIX:
		return "UNIX"
	case HostSystemNTFS:
		return "Windows NTFS"
	case HostSystemDarwin:
		return "OS X (Darwin)"
	}
	return "Unknown"
}

// VersionMadeBy combines the host system and SpecVersion.
func (h HostSystem) VersionMadeBy() uint16 {
	fs := h
	// Normalize NTFS to FAT for broader compatibility
	if fs == HostSystemNTFS {
		fs = HostSystemFAT
	}
	return uint16(fs)<<8 | SpecVersion
}
