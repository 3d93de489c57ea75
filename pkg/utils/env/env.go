// Package env parses .env style files into a lookup source usable with
// go-simpler.org/env.
package env

import (
	"bufio"
	"os"
	"strings"

	"aether.dev/pkg/utils/chk"
)

// Env is a KEY=value map loaded from a .env file.
type Env map[string]string

// LookupEnv implements the env.Source interface.
func (e Env) LookupEnv(key string) (value string, ok bool) {
	value, ok = e[key]
	return
}

// GetEnv loads the file at path, skipping blank lines and # comments.
func GetEnv(path string) (e Env, err error) {
	var f *os.File
	if f, err = os.Open(path); chk.E(err) {
		return
	}
	defer f.Close()
	e = Env{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		e[strings.TrimSpace(k)] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	err = scanner.Err()
	chk.E(err)
	return
}
