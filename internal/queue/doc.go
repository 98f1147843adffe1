// Package queue is the persistent regeneration work queue.
//
// Jobs live in a SQLite database shared by every regenbot process on the
// host. A job is claimed by a conditional PENDING -> RUNNING update, so a row
// is handed to exactly one caller no matter how many goroutines, queue
// instances or processes poll the same database. RUNNING rows left behind by
// a crash are reset to PENDING at startup.
package queue
