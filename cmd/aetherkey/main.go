// Command aetherkey generates and derives the Ed25519 identities clients
// sign events with.
package main

import (
	"fmt"
	"os"

	"github.com/alexflint/go-arg"

	"aether.dev/pkg/crypto/keys"
	"aether.dev/pkg/version"
)

type args struct {
	Seed string `arg:"-s,--seed" help:"derive the keypair from a 32-byte hex seed instead of generating one"`
}

func (args) Version() string { return "aetherkey " + version.V }

func main() {
	var a args
	arg.MustParse(&a)
	if a.Seed != "" {
		sk, err := keys.FromSeedHex(a.Seed)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
			os.Exit(64)
		}
		fmt.Printf("secret: %s\npubkey: %s\n", keys.SeedHex(sk), keys.PubHex(sk))
		return
	}
	sk, _ := keys.Generate()
	fmt.Printf("secret: %s\npubkey: %s\n", keys.SeedHex(sk), keys.PubHex(sk))
}
