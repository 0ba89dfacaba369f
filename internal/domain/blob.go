package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies aged append-only history to cold storage. Records are
// never removed from the primary store by archiving.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveFills(ctx context.Context, before time.Time) (int64, error)
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}

// Archive record kinds. Each is stored under archive/{kind}/YYYY/MM/DD.jsonl.
const (
	ArchiveTrades = "trades"
	ArchiveFills  = "fills"
	ArchiveOrders = "orders"
)

// ValidArchiveKind reports whether kind names an archived record type.
func ValidArchiveKind(kind string) bool {
	return kind == ArchiveTrades || kind == ArchiveFills || kind == ArchiveOrders
}

// ArchivePartition is one archived UTC day of one record kind.
type ArchivePartition struct {
	Kind         string    `json:"kind"`
	Day          string    `json:"day"` // YYYY-MM-DD
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ArchiveReader reads archived history back out of cold storage.
type ArchiveReader interface {
	Partitions(ctx context.Context, kind string) ([]ArchivePartition, error)
	OpenPartition(ctx context.Context, kind string, day time.Time) (io.ReadCloser, error)
}
