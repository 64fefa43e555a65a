package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
)

// Generates a proof-payload encryption key ready to paste into the
// environment. Rotate by generating under a new key id and keeping the old
// entry until every proof encrypted with it is terminal.
func main() {
	keyID := flag.String("key-id", "default", "key id to advertise as PROOF_KEY_ID")
	flag.Parse()

	key, err := generateKeyHex()
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	fmt.Printf("PROOF_KEY_ID=%s\n", *keyID)
	fmt.Printf("PROOF_ENCRYPTION_KEY=%s\n", key)
}

func generateKeyHex() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
