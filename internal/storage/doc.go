// Package storage keeps the WAR artifacts uploaded to a node agent.
//
// Each artifact is stored under the context it was deployed as, together
// with its original file name, size and SHA-256 checksum. The node agent
// reads the checksum back in its status output so operators can tell two
// builds with the same version string apart.
//
// # Implementations
//
// MemoryStore keeps artifact bytes in a map guarded by sync.RWMutex:
//   - Get and List take shared locks, Put and Delete exclusive ones
//   - Get returns a copy so callers cannot modify stored bytes
//   - hashing and size checks happen before the lock is taken
//
// An optional per-artifact size limit rejects oversized uploads without
// buffering more than limit+1 bytes.
//
// # Usage
//
//	store := storage.NewMemoryStore(0)
//	meta, err := store.Put("/shop##42", "shop##42.war", body)
//	if err != nil {
//		return err
//	}
//	log.Info("stored", "sha256", meta.SHA256, "bytes", meta.Size)
//
// # Interface
//
// Store is the contract the node agent depends on:
//
//	Put(context, filename, r)  store and hash an artifact
//	Get(context)               bytes and metadata, or ErrNotFound
//	Delete(context)            remove, missing keys are ignored
//	List()                     metadata sorted by context
//	Stats()                    artifact count and total bytes
//
// Keys are opaque to the store. The node agent uses vhost plus context so
// the same context can exist on two virtual hosts.
package storage
