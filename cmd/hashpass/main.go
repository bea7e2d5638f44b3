// Command hashpass prints an Argon2id hash for ADMIN_PASSWORD_HASH.
//
//	go run ./cmd/hashpass <password>
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/digkill/IMEICheckBot/internal/admin"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hashpass <password>")
		os.Exit(1)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Fprintf(os.Stderr, "generate salt: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(admin.HashPassword(os.Args[1], salt, admin.DefaultHashParams))
}
