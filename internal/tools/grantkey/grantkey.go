// Package grantkey generates the keypair caller grants are signed and
// verified with.
package grantkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Run generates an identity grant keypair and writes it as an env file the
// server and the grant issuer load directly. The issuer and audience lines
// carry the default values; operators with their own issuer edit them in
// place.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate identity grant key: %w", err)
	}
	_, err = fmt.Fprintf(out,
		"STAGEGATE_IDENTITY_ISSUER=stagegate\n"+
			"STAGEGATE_IDENTITY_AUDIENCE=stagegate-core\n"+
			"STAGEGATE_IDENTITY_PUBLIC_KEY=%s\n"+
			"STAGEGATE_IDENTITY_PRIVATE_KEY=%s\n",
		base64.RawStdEncoding.EncodeToString(publicKey),
		base64.RawStdEncoding.EncodeToString(privateKey))
	return err
}
