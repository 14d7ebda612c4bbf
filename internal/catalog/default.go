package catalog

import "sync"

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Init loads the process-wide catalog from path. Only the first call loads;
// later calls return the first call's outcome. The catalog lives for the
// lifetime of the process.
func Init(path string) (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadFile(path)
	})
	return defaultCatalog, defaultErr
}

// Default returns the catalog loaded by Init, or nil if Init has not
// succeeded.
func Default() *Catalog {
	return defaultCatalog
}
