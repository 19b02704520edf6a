// Package storage provides the durable local persistence layer behind a
// small driver interface. The file driver needs nothing beyond the
// filesystem; the sqlite driver keeps the same documents in a single WAL
// database, which is preferable on flaky filesystems.
package storage
