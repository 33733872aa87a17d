// Package store defines the persistence contracts for workflow runs and their
// step checkpoints.
package store
