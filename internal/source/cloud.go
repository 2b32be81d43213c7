package source

import (
	"context"
	"errors"
	"io"
	"iter"
	"path"
	"sort"
	"strings"

	"dq-engine/internal/catalog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

type gcsClient interface {
	Bucket(name string) gcsBucket
	Close() error
}
type gcsBucket interface {
	Object(name string) gcsObject
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
type gcsObject interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

type realGCSClient struct{ c *storage.Client }
type realGCSBucket struct{ b *storage.BucketHandle }
type realGCSObject struct{ o *storage.ObjectHandle }

func (r realGCSClient) Bucket(name string) gcsBucket { return realGCSBucket{b: r.c.Bucket(name)} }
func (r realGCSClient) Close() error                 { return r.c.Close() }
func (b realGCSBucket) Object(name string) gcsObject { return realGCSObject{o: b.b.Object(name)} }
func (o realGCSObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.o.NewReader(ctx)
}

func (b realGCSBucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	it := b.b.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

var newGCSClientHook = func(ctx context.Context) (gcsClient, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return realGCSClient{c: c}, nil
}

// CloudAdapter treats every CSV object under connection_info.bucket and
// connection_info.prefix as one table, named by its path below the prefix.
type CloudAdapter struct{}

func NewCloudAdapter() *CloudAdapter { return &CloudAdapter{} }

func (a *CloudAdapter) Discover(ctx context.Context, ds catalog.DataSource) (*Schema, error) {
	client, bucket, prefix, err := a.connect(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	objects, err := a.csvObjects(ctx, ds, client, bucket, prefix)
	if err != nil {
		return nil, err
	}

	schema := &Schema{Confident: true}
	for _, obj := range objects {
		table := tableForObject(prefix, obj)
		rc, err := client.Bucket(bucket).Object(obj).NewReader(ctx)
		if err != nil {
			return nil, unavailable(ds.Name, table, "", err)
		}
		fields, rows, err := describeRecords(csvRecords(rc))
		_ = rc.Close()
		if err != nil {
			return nil, a.classify(ds.Name, table, "", err)
		}
		schema.Tables = append(schema.Tables, DiscoveredTable{
			Name: table,
			Metadata: map[string]any{
				"bucket":       bucket,
				"object":       obj,
				"format":       "csv",
				"sampled_rows": rows,
			},
			Fields: fields,
		})
	}
	return schema, nil
}

func (a *CloudAdapter) Open(ctx context.Context, ds catalog.DataSource, table, field string) (iter.Seq2[any, error], error) {
	client, bucket, prefix, err := a.connect(ctx, ds)
	if err != nil {
		return nil, err
	}

	objects, err := a.csvObjects(ctx, ds, client, bucket, prefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	object := ""
	for _, obj := range objects {
		if tableForObject(prefix, obj) == table {
			object = obj
			break
		}
	}
	if object == "" {
		_ = client.Close()
		return nil, malformed(ds.Name, table, field, "object not found", nil)
	}

	return func(yield func(any, error) bool) {
		defer client.Close()

		rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if err != nil {
			yield(nil, unavailable(ds.Name, table, field, err))
			return
		}
		defer rc.Close()

		next := csvRecords(rc)
		idx, err := columnIndex(next, field)
		if err != nil {
			yield(nil, a.classify(ds.Name, table, field, err))
			return
		}
		for v, err := range columnValues(next, idx, func(err error) error { return a.classify(ds.Name, table, field, err) }) {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}, nil
}

func (a *CloudAdapter) connect(ctx context.Context, ds catalog.DataSource) (gcsClient, string, string, error) {
	bucket := ds.Descriptor("bucket")
	if bucket == "" {
		return nil, "", "", malformed(ds.Name, "", "", "connection_info.bucket is required", nil)
	}
	client, err := newGCSClientHook(ctx)
	if err != nil {
		return nil, "", "", unavailable(ds.Name, "", "", err)
	}
	return client, bucket, ds.Descriptor("prefix"), nil
}

func (a *CloudAdapter) csvObjects(ctx context.Context, ds catalog.DataSource, client gcsClient, bucket, prefix string) ([]string, error) {
	names, err := client.Bucket(bucket).ListObjects(ctx, prefix)
	if err != nil {
		return nil, unavailable(ds.Name, "", "", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if strings.EqualFold(path.Ext(n), ".csv") {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *CloudAdapter) classify(ds, table, field string, err error) error {
	var he headerError
	switch {
	case errors.Is(err, errMissingColumn):
		return malformed(ds, table, field, "column not found", nil)
	case isParseError(err):
		return malformed(ds, table, field, "unparseable object", err)
	case errors.As(err, &he):
		return malformed(ds, table, field, he.Error(), nil)
	}
	return unavailable(ds, table, field, err)
}

func tableForObject(prefix, object string) string {
	rel := strings.TrimPrefix(object, prefix)
	rel = strings.TrimPrefix(rel, "/")
	return strings.TrimSuffix(rel, path.Ext(rel))
}
