package loaders

// Resource is what a loader hands back: the raw bytes read from disk and,
// for decoded formats, the decoded value.
type Resource struct {
	Name     string
	FullPath string
	DataSize uint64
	Data     interface{}
}
