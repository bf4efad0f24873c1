// Package types defines the Store interface, the note and video record
// entities, and the standard errors shared by the mimi storage backends.
package types
