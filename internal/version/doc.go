// Package version provides the opaque version token attached to every stored
// value. Tokens are minted by storage backends on each successful write and
// are only ever compared for equality.
package version
