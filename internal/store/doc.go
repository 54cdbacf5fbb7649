// Package store declares the persistence contracts for capture runs. Concrete
// implementations live under internal/storage; this package must not import
// database drivers.
package store
