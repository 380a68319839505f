// Package fs is the file system seam under store.FSDirectory and
// blobstore.LocalStore.
//
// [OS] is the real thing and [Default] points at it. [FaultyFS] wraps any
// FileSystem and fails writes, syncs, renames or removes of matching file
// names, which is how crash and disk-full behavior of commits is tested:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("segments_", fs.Fault{FailOnRename: true})
//	dir, _ := store.OpenFSDirectory(path, store.WithFileSystem(ffs))
//
// Calls take no context.Context. Local syscalls cannot be interrupted;
// remote storage goes through package blobstore.
package fs
