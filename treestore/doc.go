// Package treestore persists tree observations in an append-only
// CSV file.
//
// # File Format
//
// A single file (default: "data/trees.csv") with a header row
// followed by one row per observation:
//
//	id,lat,lon,species,notes,timestamp
//
// id is the time of insertion in unix milliseconds, bumped by one
// when two inserts land on the same millisecond, so ids are unique
// and strictly increasing. timestamp is the insertion time in unix
// seconds. The file is created lazily, on first read or write.
//
// # Basic Usage
//
//	s := &treestore.Store{
//	    DataDir: "./data",
//	}
//	err := treestore.OpenStore(s)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := s.Append(52.2297, 21.0122, "oak", "")
//
//	rows, err := s.ReadAll()
//
// # Thread Safety
//
// The Store is safe for concurrent use. Reads share a read lock,
// appends take the write lock.
package treestore
