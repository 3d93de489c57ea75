// Package chk provides one-letter error check helpers that log the error with
// its code location and report whether it was nil, enabling the
// if chk.E(err) { ... } form used throughout this codebase.
package chk

import "aether.dev/pkg/utils/lol"

// E logs err at error level if non-nil and reports whether it was.
func E(err error) bool { return lol.Main.E.Check(err, 1) }

// W logs err at warn level if non-nil and reports whether it was.
func W(err error) bool { return lol.Main.W.Check(err, 1) }

// D logs err at debug level if non-nil and reports whether it was.
func D(err error) bool { return lol.Main.D.Check(err, 1) }

// T logs err at trace level if non-nil and reports whether it was.
func T(err error) bool { return lol.Main.T.Check(err, 1) }
