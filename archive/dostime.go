// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package archive

import "time"

// dosStamp is the packed MS-DOS date/time pair stored in ZIP records.
// It has two-second resolution and covers 1980 through 2107.
type dosStamp struct {
	date  uint16 // yyyyyyym mmmddddd, year relative to 1980
	clock uint16 // hhhhhmmm mmmsssss, seconds halved
}

func stampOf(t time.Time) dosStamp {
	year := uint16(min(max(t.Year()-1980, 0), 0x7F))
	return dosStamp{
		date:  year<<9 | uint16(t.Month())<<5 | uint16(t.Day()),
		clock: uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()>>1),
	}
}

// Time decodes the stamp as UTC. Out-of-range month and day fields, which
// some writers emit as zero, clamp to 1.
func (s dosStamp) Time() time.Time {
	month := time.Month(s.date >> 5 & 0x0F)
	if month < time.January || month > time.December {
		month = time.January
	}
	day := int(s.date & 0x1F)
	if day == 0 {
		day = 1
	}
	return time.Date(1980+int(s.date>>9), month, day,
		int(s.clock>>11), int(s.clock>>5&0x3F), int(s.clock&0x1F)*2, 0, time.UTC)
}
