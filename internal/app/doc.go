// Package app wires configuration, collaborators and the HTTP server for
// one backend variant and runs it until its context ends.
package app
