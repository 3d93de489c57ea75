// Package errorf creates errors and logs them at the same time.
package errorf

import (
	"fmt"

	"aether.dev/pkg/utils/lol"
)

// E creates a formatted error and logs it at error level.
func E(format string, a ...any) (err error) {
	err = fmt.Errorf(format, a...)
	lol.Main.E.Check(err, 1)
	return
}

// W creates a formatted error and logs it at warn level.
func W(format string, a ...any) (err error) {
	err = fmt.Errorf(format, a...)
	lol.Main.W.Check(err, 1)
	return
}
