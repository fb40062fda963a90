// Package fs is the write path of blobstore.LocalStore, abstracted for fault
// injection.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: fails writes, syncs, closes or renames by name pattern
//
// Tests use FaultyFS to simulate a crash in the middle of a flush:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("CURRENT", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
//	store, _ := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// Reads do not go through this package; LocalStore loads blobs with
// internal/mmap.
package fs
