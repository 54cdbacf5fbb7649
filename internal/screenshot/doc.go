// Package screenshot defines the jobs, outcomes, result sets, and collaborator
// interfaces shared by the queue, worker pool, collector, retry coordinator,
// and report generator.
package screenshot
