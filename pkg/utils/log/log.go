// Package log exposes the default lol logger's level printers under short
// names, so call sites read log.I.F(...), log.W.Ln(...) and so on.
package log

import "aether.dev/pkg/utils/lol"

var (
	// F prints at fatal level.
	F = lol.Main.F
	// E prints at error level.
	E = lol.Main.E
	// W prints at warn level.
	W = lol.Main.W
	// I prints at info level.
	I = lol.Main.I
	// D prints at debug level.
	D = lol.Main.D
	// T prints at trace level.
	T = lol.Main.T
)
