// Package logging provides opt-in file-based logging with rotation for metafind.
// When the --debug flag is set, JSON logs are written to ~/.metafind/logs/
// for troubleshooting, and `metafind logs` reads them back.
//
// Without --debug only warnings and errors are logged, to stderr, because
// stdout carries search results.
package logging
