// Command profilectl inspects and maintains a speaker profile directory
// without running the server.
//
// Usage:
//
//	profilectl [--dir <path>] <command> [args]
//
// Commands:
//
//	list     - enrolled speakers and their sample counts
//	stats    - storage statistics, including orphaned files
//	inspect  - decode one profile file
//	backup   - copy every profile file to a backup directory
//	export   - write the profile metadata document
//	cleanup  - delete profile files no speaker owns
//	remove   - forget a speaker and delete its profile file
//
// The directory defaults to PROFILE_STORAGE_DIR. Output is JSON on stdout;
// logs go to stderr.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
