// Package main hosts the pubsweep CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once per invocation, builds a
// stderr logger and hands off to the internal packages: orchestrate for run,
// status and watch, registry for item and ledger queries, planner and scanner
// for per-partition inspection, and preflight for check. Commands print tables
// or JSON on stdout; logs never go there.
package main
