// Package nlog is the translator's sole logging surface: every other
// package logs through here rather than calling glog or fmt directly.
/*
 * Copyright (c) 2026, Project Authors. All rights reserved.
 */
package nlog

import (
	"fmt"

	"github.com/golang/glog"
)

// Level gates verbose diagnostic lines (matrix dumps, per-child chatter)
// behind `-v`, same convention as glog.V.
type Level = glog.Level

func V(level Level) bool { return bool(glog.V(level)) }

func Infoln(args ...any)  { glog.InfoDepth(1, fmt.Sprint(args...)) }
func Infof(format string, args ...any)  { glog.InfoDepth(1, fmt.Sprintf(format, args...)) }
func Warningf(format string, args ...any) { glog.WarningDepth(1, fmt.Sprintf(format, args...)) }
func Errorln(args ...any) { glog.ErrorDepth(1, fmt.Sprint(args...)) }
func Errorf(format string, args ...any) { glog.ErrorDepth(1, fmt.Sprintf(format, args...)) }

// Criticalf logs an internal-invariant violation (spec §7): never fatal,
// always surfaced loudly so an operator notices a malformed changelog or a
// phase-ordering bug without the process crashing.
func Criticalf(format string, args ...any) {
	glog.ErrorDepth(1, "CRITICAL: "+fmt.Sprintf(format, args...))
}

func Flush() { glog.Flush() }
