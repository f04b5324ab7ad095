// Package storagehandler provides a unified storage abstraction over
// heterogeneous backends: local filesystem, SFTP, Amazon S3, and Google
// Cloud Storage.
//
// A Handler is constructed from a storage root URI and exposes one
// consistent operation set (list, read, write, upload, download, rename,
// copy, metadata, streaming, directory sync, presigned URLs, permissions)
// regardless of backend. Backend drivers live in the driver/ subpackages
// and register themselves by URI scheme; import the ones you need for
// their side effects:
//
//	import (
//	    storagehandler "github.com/zoctipus/StorageHandler"
//	    _ "github.com/zoctipus/StorageHandler/driver/local"
//	    _ "github.com/zoctipus/StorageHandler/driver/s3"
//	)
//
//	h, err := storagehandler.New("s3://my-bucket/datasets")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	data, err := h.ReadFile(ctx, "train/manifest.json", true)
//
// Every operation accepts a relative flag: when true the path is joined
// to the configured base path, when false it is treated as absolute
// within the backend's namespace but still confined to the configured
// bucket or host. Paths that escape the root fail with ErrInvalidPath.
//
// Backend differences are normalized rather than leaked: object stores
// without real directories report directory existence through key-prefix
// probes, rename falls back to copy-then-delete where no native rename
// exists, and transient connection failures are retried with bounded
// exponential backoff before surfacing as ErrConnection.
package storagehandler
