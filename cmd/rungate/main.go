// Package main implements rungate, a command-line run-gate.
//
// rungate wraps a command so it only runs when its constraints allow, which turns a naive cron
// entry or login hook into "at most once a day, not while offline, back off after failures":
//
//	rungate exec --id backup --period daily --retry 10m --connectivity wifi -- /usr/local/bin/backup
//	rungate status --id backup --period daily
//	rungate reset
//
// State lives in SQLite by default; --store redis shares it across hosts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
