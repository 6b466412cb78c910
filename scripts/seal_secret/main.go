// seal_secret prints a value sealed with the current SCALP_MASTER_KEY so it
// can be stored in .env as BINANCE_API_KEY / BINANCE_API_SECRET.
//
// Usage:
//
//	go run ./scripts/seal_secret -genkey
//	SCALP_MASTER_KEY=... go run ./scripts/seal_secret < secret.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"scalp-core/pkg/crypto"
)

func main() {
	genKey := flag.Bool("genkey", false, "print a new random master key and exit")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fail(err)
		}
		fmt.Println(key)
		return
	}

	_ = godotenv.Load()
	kr, err := crypto.KeyringFromEnv()
	if err != nil {
		fail(err)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fail(fmt.Errorf("read secret from stdin: %w", err))
	}
	sealed, err := kr.Encrypt(strings.TrimSpace(line))
	if err != nil {
		fail(err)
	}
	fmt.Println(sealed)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "seal_secret:", err)
	os.Exit(1)
}
