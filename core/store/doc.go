// Package store persists user directory records.
//
// Two implementations of service.UserStore are provided:
//   - JSONFileStore keeps the whole directory in one indented JSON array on
//     disk, the format of data/users.json
//   - SQLiteStore keeps one row per user in a SQLite database
//
// Both assign ids as one more than the largest existing id, inside their own
// critical section, so concurrent appends from different sessions never hand
// out the same id. JSONFileStore writes through a temporary file and a rename,
// so a crash mid-write leaves the previous contents intact.
//
// Use Open to pick an implementation from configuration:
//
//	st, err := store.Open(store.Options{Driver: "json", Path: "data/users.json"})
package store
