//go:build mage

// Package main provides build targets for mimi using Mage.
//
// Usage:
//
//	mage build       Compile the mimi binary to bin/
//	mage test:all    Run every test
//	mage test:race   Run every test with the race detector
//	mage test:cover  Write coverage.out and print per-function coverage
//	mage lint        Run golangci-lint
//	mage clean       Remove build artifacts
//	mage install     Install mimi to GOPATH/bin
//	mage stats       Print Go LOC and documentation word counts
package main

const (
	binGo      = "go"
	binaryName = "mimi"
	binaryDir  = "bin"
	cmdDir     = "./cmd/mimi"
	coverFile  = "coverage.out"
)
