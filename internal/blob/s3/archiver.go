package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// multipartThreshold is the payload size above which a partition is
// uploaded with the multipart manager.
const multipartThreshold = 64 * 1024 * 1024

const jsonlContentType = "application/x-ndjson"

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// FillArchiveStore provides read access to fills for archival purposes.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
}

// OrderArchiveStore provides read access to filled orders for archival
// purposes. Resting orders are live state and are never archived.
type OrderArchiveStore interface {
	ListFilledBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// ArchiveImpl implements domain.Archiver. Records older than the cutoff are
// grouped into UTC-day partitions, serialized to JSONL and uploaded to
//
//	archive/{kind}/YYYY/MM/DD.jsonl
//
// A partition that already exists is skipped, so repeated runs are cheap and
// never rewrite an archived day. The cutoff is truncated to midnight UTC so
// only complete days are written. Nothing is deleted from the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades TradeArchiveStore
	fills  FillArchiveStore
	orders OrderArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	trades TradeArchiveStore,
	fills FillArchiveStore,
	orders OrderArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		trades: trades,
		fills:  fills,
		orders: orders,
		audit:  audit,
	}
}

func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	before = dayCutoff(before)
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archive(ctx, a, domain.ArchiveTrades, before, trades, func(t domain.Trade) time.Time { return t.Timestamp })
}

func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	before = dayCutoff(before)
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	return archive(ctx, a, domain.ArchiveFills, before, fills, func(f domain.Fill) time.Time { return f.Timestamp })
}

func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	before = dayCutoff(before)
	orders, err := a.orders.ListFilledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, domain.ArchiveOrders, before, orders, func(o domain.Order) time.Time { return o.UpdatedAt })
}

// archive uploads every missing day partition of records and returns the
// number of records written.
func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T, ts func(T) time.Time) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	days := make(map[string][]T)
	for _, r := range records {
		day := ts(r).UTC().Format("2006/01/02")
		days[day] = append(days[day], r)
	}
	keys := make([]string, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	var written int64
	var paths []string
	for _, day := range keys {
		path := archivePath(kind, day)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			continue
		}

		buf, err := marshalJSONL(days[day])
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return written, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		written += int64(len(days[day]))
		paths = append(paths, path)
	}

	if a.audit != nil && len(paths) > 0 {
		if err := a.audit.Log(ctx, "archive_"+kind, map[string]any{
			"paths":  paths,
			"count":  written,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return written, nil
}

// dayCutoff truncates t to midnight UTC.
func dayCutoff(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func archivePath(kind, day string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day)
}

func archivePrefix(kind string) string {
	return "archive/" + kind + "/"
}

// Partitions lists the archived days of kind, oldest first. Objects under
// the prefix that are not day partitions are ignored.
func (a *ArchiveImpl) Partitions(ctx context.Context, kind string) ([]domain.ArchivePartition, error) {
	if !domain.ValidArchiveKind(kind) {
		return nil, fmt.Errorf("s3blob: partitions: %w: kind %q", domain.ErrInvalidArchive, kind)
	}
	prefix := archivePrefix(kind)
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: partitions %s: %w", kind, err)
	}

	out := make([]domain.ArchivePartition, 0, len(infos))
	for _, info := range infos {
		name, ok := strings.CutSuffix(strings.TrimPrefix(info.Path, prefix), ".jsonl")
		if !ok {
			continue
		}
		d, err := time.Parse("2006/01/02", name)
		if err != nil {
			continue
		}
		out = append(out, domain.ArchivePartition{
			Kind:         kind,
			Day:          d.Format(time.DateOnly),
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// OpenPartition returns the JSONL body of one archived day. The caller
// closes it. A day that was never archived is domain.ErrNotFound.
func (a *ArchiveImpl) OpenPartition(ctx context.Context, kind string, day time.Time) (io.ReadCloser, error) {
	if !domain.ValidArchiveKind(kind) {
		return nil, fmt.Errorf("s3blob: open partition: %w: kind %q", domain.ErrInvalidArchive, kind)
	}
	path := archivePath(kind, day.UTC().Format("2006/01/02"))
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: open partition: %w", err)
	}
	return body, nil
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver      = (*ArchiveImpl)(nil)
	_ domain.ArchiveReader = (*ArchiveImpl)(nil)
)
