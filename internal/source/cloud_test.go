package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"dq-engine/internal/catalog"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fakeGCSClient struct {
	objects map[string]string
	listErr error
	readErr error
	closed  int
}

type fakeGCSBucket struct{ c *fakeGCSClient }
type fakeGCSObject struct {
	c    *fakeGCSClient
	name string
}

func (c *fakeGCSClient) Bucket(name string) gcsBucket { return fakeGCSBucket{c: c} }
func (c *fakeGCSClient) Close() error                 { c.closed++; return nil }

func (b fakeGCSBucket) Object(name string) gcsObject { return fakeGCSObject{c: b.c, name: name} }
func (b fakeGCSBucket) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if b.c.listErr != nil {
		return nil, b.c.listErr
	}
	var out []string
	for name := range b.c.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (o fakeGCSObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	if o.c.readErr != nil {
		return nil, o.c.readErr
	}
	body, ok := o.c.objects[o.name]
	if !ok {
		return nil, errors.New("object doesn't exist")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func withFakeGCS(t *testing.T, c *fakeGCSClient) {
	t.Helper()
	prev := newGCSClientHook
	newGCSClientHook = func(ctx context.Context) (gcsClient, error) { return c, nil }
	t.Cleanup(func() { newGCSClientHook = prev })
}

func cloudSource() catalog.DataSource {
	return catalog.DataSource{
		Name:           "lake",
		Type:           catalog.DataSourceCloud,
		ConnectionInfo: datatypes.JSONMap{"bucket": "b", "prefix": "exports/"},
	}
}

func TestCloudAdapter_DiscoverAndOpen(t *testing.T) {
	fake := &fakeGCSClient{objects: map[string]string{
		"exports/orders.csv":      "id,total_amount\n1,12.5\n2,\n",
		"exports/2026/events.csv": "id,kind\n1,click\n",
		"exports/readme.md":       "skip",
		"other/ignored.csv":       "x\n1\n",
	}}
	withFakeGCS(t, fake)

	a := NewCloudAdapter()
	schema, err := a.Discover(context.Background(), cloudSource())
	require.NoError(t, err)
	require.True(t, schema.Confident)
	require.Len(t, schema.Tables, 2)
	require.Equal(t, "2026/events", schema.Tables[0].Name)
	require.Equal(t, "orders", schema.Tables[1].Name)
	require.Equal(t, "exports/orders.csv", schema.Tables[1].Metadata["object"])
	require.Equal(t, "double", schema.Tables[1].Fields[1].DataType)

	seq, err := a.Open(context.Background(), cloudSource(), "orders", "total_amount")
	require.NoError(t, err)
	values, err := collect(t, seq)
	require.NoError(t, err)
	require.Equal(t, []any{"12.5", nil}, values)
	require.GreaterOrEqual(t, fake.closed, 2)
}

func TestCloudAdapter_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewCloudAdapter().Discover(ctx, catalog.DataSource{Name: "lake", Type: catalog.DataSourceCloud})
	require.True(t, IsMalformed(err), "missing bucket: %v", err)

	withFakeGCS(t, &fakeGCSClient{listErr: errors.New("403")})
	_, err = NewCloudAdapter().Discover(ctx, cloudSource())
	require.True(t, IsUnavailable(err), "list failure: %v", err)

	withFakeGCS(t, &fakeGCSClient{objects: map[string]string{"exports/t.csv": "a\n1\n"}})
	_, err = NewCloudAdapter().Open(ctx, cloudSource(), "missing", "a")
	require.True(t, IsMalformed(err), "unknown table: %v", err)

	seq, err := NewCloudAdapter().Open(ctx, cloudSource(), "t", "b")
	require.NoError(t, err)
	_, err = collect(t, seq)
	require.True(t, IsMalformed(err), "unknown column: %v", err)

	fake := &fakeGCSClient{objects: map[string]string{"exports/t.csv": "a\n1\n"}, readErr: errors.New("timeout")}
	withFakeGCS(t, fake)
	_, err = NewCloudAdapter().Discover(ctx, cloudSource())
	require.True(t, IsUnavailable(err), "read failure: %v", err)
}

func TestTableForObject(t *testing.T) {
	require.Equal(t, "orders", tableForObject("exports/", "exports/orders.csv"))
	require.Equal(t, "orders", tableForObject("exports", "exports/orders.csv"))
	require.Equal(t, "a/b", tableForObject("", "a/b.CSV"))
}
