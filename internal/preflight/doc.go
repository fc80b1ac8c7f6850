// Package preflight provides readiness checks for the filesystem paths and
// binaries a pubsweep configuration depends on.
//
// The CLI "pubsweep check" command runs RunAll and prints each result. Run and
// watch do not gate on these checks: an unreadable manifest or output tree is
// reported per partition instead of aborting a pass.
package preflight
