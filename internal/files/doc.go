// Package files owns the local scratch directory the exporter writes to.
//
// Manager persists captured downloads under their final names, verifies
// that what was saved looks like CSV data, and answers whether an export
// already exists. Discovery lists the exports present in a directory.
//
//	manager := files.NewManager(paths.ScratchDir)
//	saved, err := manager.Persist(download.Path, item.FileName())
//	if err != nil {
//	    // DOWNLOAD error
//	}
package files
