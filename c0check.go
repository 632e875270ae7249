// Package c0check is a parallel conformance harness for the C0 toolchain.
// It runs test programs against one of three backends (cc0, c0vm, coin)
// under hard CPU-time and memory ceilings and classifies each outcome
// against the expectation encoded in the test.
package c0check

// Version is the c0check release version.
const Version = "0.3.0"
