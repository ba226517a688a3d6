// Package creds holds the engine's in-memory API credential, already
// decrypted by the external configuration layer. The core never decrypts
// a credential file itself; it only ever sees a key/value configuration
// map and an optional key/secret pair.
package creds

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"goxengine/pkg/types"
)

// Load builds a Credential from a hex-with-dashes key and a base64 secret,
// the shapes the external configuration layer hands the core. Either value
// empty ⇒ a nil Credential and the engine runs read-only.
func Load(keyHex, secretB64 string) (*types.Credential, error) {
	if keyHex == "" || secretB64 == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(strings.ReplaceAll(keyHex, "-", ""))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	return &types.Credential{Key: key, Secret: secret}, nil
}
