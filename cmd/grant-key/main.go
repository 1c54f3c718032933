// Package main provides a one-shot utility for identity grant key
// generation.
//
// It emits the asymmetric keypair callers use to sign dispatch grants.
package main

import (
	"os"

	"github.com/stagegate/stagegate/internal/platform/config"
	"github.com/stagegate/stagegate/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate identity grant key: %v", err)
	}
}
