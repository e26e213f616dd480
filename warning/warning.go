// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package warning collects graded, non-fatal problems found while reading or
// writing a package. Each warning carries a severity; anything at or above the
// configured threshold is escalated into an error instead of being recorded.
package warning

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Severity orders warnings from least to most severe.
type Severity uint8

const (
	InvalidOptionalValue Severity = iota + 1
	MissingMandatoryValue
	InvalidMandatoryValue
	Fatal
)

func (s Severity) String() string {
	switch s {
	case InvalidOptionalValue:
		return "invalid_optional"
	case MissingMandatoryValue:
		return "missing_mandatory"
	case InvalidMandatoryValue:
		return "invalid_mandatory"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invalid_optional":
		return InvalidOptionalValue, nil
	case "missing_mandatory":
		return MissingMandatoryValue, nil
	case "invalid_mandatory":
		return InvalidMandatoryValue, nil
	case "fatal", "":
		return Fatal, nil
	}
	return 0, fmt.Errorf("warning: unknown severity %q", s)
}

// Code identifies the kind of problem.
type Code uint16

const (
	ContainerInconsistent Code = iota + 1
	MissingKeyStoreUUID
	InvalidUUID
	MissingConsumerID
	InvalidConsumerIndex
	InvalidAlgorithm
	InvalidBase64
	InvalidCompression
	MissingPath
	DuplicateElement
	MissingDEK
	MissingKEK
	UnwrapFailed
)

func (c Code) String() string {
	switch c {
	case ContainerInconsistent:
		return "container has inconsistencies"
	case MissingKeyStoreUUID:
		return "missing keystore uuid"
	case InvalidUUID:
		return "invalid uuid"
	case MissingConsumerID:
		return "missing consumer id"
	case InvalidConsumerIndex:
		return "invalid consumer index"
	case InvalidAlgorithm:
		return "invalid algorithm"
	case InvalidBase64:
		return "invalid base64"
	case InvalidCompression:
		return "invalid compression"
	case MissingPath:
		return "missing path"
	case DuplicateElement:
		return "duplicate element"
	case MissingDEK:
		return "missing content encryption callback"
	case MissingKEK:
		return "missing key wrapping callback"
	case UnwrapFailed:
		return "key unwrap failed"
	}
	return fmt.Sprintf("code(%d)", uint16(c))
}

// ErrEscalated matches every FatalError.
var ErrEscalated = errors.New("warning: escalated to error")

// Warning is a single recorded problem.
type Warning struct {
	Code     Code
	Severity Severity
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (%s): %s", w.Code, w.Severity, w.Message)
}

// FatalError is returned by List.Add when a warning crosses the threshold.
type FatalError struct {
	Warning Warning
}

func (e *FatalError) Error() string {
	return "warning: " + e.Warning.String()
}

func (e *FatalError) Is(target error) bool { return target == ErrEscalated }

// List accumulates warnings. The zero value is not usable; call NewList.
type List struct {
	mu        sync.Mutex
	threshold Severity
	items     []Warning
	log       *logrus.Entry
}

// NewList creates a collector. Warnings with severity >= threshold are
// escalated. A nil logger disables logging.
func NewList(threshold Severity, logger *logrus.Logger) *List {
	if threshold == 0 {
		threshold = Fatal
	}
	l := &List{threshold: threshold}
	if logger != nil {
		l.log = logger.WithField("component", "warning")
	}
	return l
}

// Threshold returns the escalation threshold.
func (l *List) Threshold() Severity { return l.threshold }

// Add records a warning or returns a *FatalError if it must be escalated.
func (l *List) Add(code Code, severity Severity, format string, args ...any) error {
	w := Warning{Code: code, Severity: severity, Message: fmt.Sprintf(format, args...)}
	if severity >= l.threshold {
		return &FatalError{Warning: w}
	}

	l.mu.Lock()
	l.items = append(l.items, w)
	l.mu.Unlock()

	if l.log != nil {
		l.log.WithFields(logrus.Fields{
			"code":     code.String(),
			"severity": severity.String(),
		}).Warn(w.Message)
	}
	return nil
}

// Items returns a copy of the recorded warnings.
func (l *List) Items() []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Warning, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of recorded warnings.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Has reports whether a warning with the given code was recorded.
func (l *List) Has(code Code) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.items {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Merge appends the warnings of other without re-checking the threshold.
func (l *List) Merge(other *List) {
	if other == nil || other == l {
		return
	}
	items := other.Items()
	l.mu.Lock()
	l.items = append(l.items, items...)
	l.mu.Unlock()
}
