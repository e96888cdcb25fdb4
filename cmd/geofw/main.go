// Command geofw runs the geo-/ASN-aware ingress packet filter: a
// control plane that keeps a compacted GeoDB image fresh, and a fast
// plane that classifies captured frames against it.
package main

import (
	"fmt"
	"os"

	"github.com/ishanjain28/geofw/cmd/geofw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
