package objstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkops/internal/job"
)

type putCall struct {
	bucket, key, contentType string
	acl                      types.ObjectCannedACL
	body                     string
	length                   int64
}

type fakeS3 struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		acl:         in.ACL,
		body:        string(body),
		length:      aws.ToInt64(in.ContentLength),
	})
	return &s3.PutObjectOutput{}, f.err
}

func writeTree(t *testing.T, files map[string]string) string {
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":          "a",
		"nested/b.json":  "{}",
		"nested/deep/c":  "c",
		"emptydir/.keep": "",
	})

	var got []Upload
	err := Walk(root, "new_code/")(context.Background(), func(u Upload) error {
		got = append(got, u)
		return nil
	})
	require.NoError(t, err)

	sort.Slice(got, func(i, k int) bool { return got[i].Key < got[k].Key })
	keys := make([]string, 0, len(got))
	for _, u := range got {
		keys = append(keys, u.Key)
		rel, err := filepath.Rel(root, u.Path)
		require.NoError(t, err)
		assert.Equal(t, u.Key, ObjectKey("new_code", rel))
	}
	assert.Equal(t, []string{
		"new_code/a.txt",
		"new_code/emptydir/.keep",
		"new_code/nested/b.json",
		"new_code/nested/deep/c",
	}, keys)
}

func TestWalkMissingRoot(t *testing.T) {
	err := Walk(filepath.Join(t.TempDir(), "nope"), "")(context.Background(), func(Upload) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWalkStopsWhenEmitFails(t *testing.T) {
	root := writeTree(t, map[string]string{"a": "1", "b": "2", "c": "3"})
	stop := errors.New("queue closed")

	n := 0
	err := Walk(root, "")(context.Background(), func(Upload) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestCheckSourceRejectsFile(t *testing.T) {
	root := writeTree(t, map[string]string{"f": "x"})
	assert.ErrorContains(t, CheckSource(filepath.Join(root, "f")), "not a directory")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("x/data.json"))
	assert.Equal(t, defaultContentType, ContentType("blob"))
}

func TestUpload(t *testing.T) {
	root := writeTree(t, map[string]string{"report.json": `{"ok":true}`})
	client := &fakeS3{}
	up := NewUploader(client, "testing-bucket-project", "public-read")

	err := up.Upload(context.Background(), job.Job[Upload]{ID: 1, Payload: Upload{
		Path: filepath.Join(root, "report.json"),
		Key:  "new_code/report.json",
	}})
	require.NoError(t, err)

	require.Len(t, client.calls, 1)
	assert.Equal(t, putCall{
		bucket:      "testing-bucket-project",
		key:         "new_code/report.json",
		contentType: "application/json",
		acl:         types.ObjectCannedACLPublicRead,
		body:        `{"ok":true}`,
		length:      11,
	}, client.calls[0])
}

func TestUploadErrors(t *testing.T) {
	root := writeTree(t, map[string]string{"a.bin": "x"})
	client := &fakeS3{err: errors.New("503 SlowDown")}
	up := NewUploader(client, "b", "")

	err := up.Upload(context.Background(), job.Job[Upload]{Payload: Upload{Path: filepath.Join(root, "a.bin"), Key: "a.bin"}})
	assert.ErrorContains(t, err, "upload")
	assert.ErrorContains(t, err, "503 SlowDown")
	assert.Empty(t, client.calls[0].acl)

	err = up.Upload(context.Background(), job.Job[Upload]{Payload: Upload{Path: filepath.Join(root, "missing"), Key: "missing"}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewClient(t *testing.T) {
	c := NewClient("https://jp-osa-1.linodeobjects.com", "jp-osa-1", "ak", "sk")
	opts := c.Options()
	assert.Equal(t, "jp-osa-1", opts.Region)
	assert.Equal(t, "https://jp-osa-1.linodeobjects.com", aws.ToString(opts.BaseEndpoint))
}
