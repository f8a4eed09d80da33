// Command steadyscan watches a camera for barcodes and QR codes and reports
// each code once when it comes into view, as it moves, and once when it is
// gone.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
