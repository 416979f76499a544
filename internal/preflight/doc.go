// Package preflight checks that a host can serve an index root before a
// build, repair or daemon start touches it.
//
// The checks cover:
//   - Configuration validity
//   - Write access to the index root (or the directory that will hold it)
//   - Free disk space and the file descriptor limit
//   - The state of library.json and the index root lock
//   - The source directory and, when configured, the redis job mirror
//
//	report := preflight.New().Run(ctx, cfg)
//	if report.Failed() {
//	    // refuse to start
//	}
package preflight
