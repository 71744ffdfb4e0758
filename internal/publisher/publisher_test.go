package publisher

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangar/rivet/internal/config"
)

type fakeStore struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	// Drain the body like the real client would.
	if params.Body != nil {
		io.Copy(io.Discard, params.Body)
	}
	f.inputs = append(f.inputs, params)
	return &s3.PutObjectOutput{}, nil
}

func makeArtifact(t *testing.T) string {
	t.Helper()
	app := filepath.Join(t.TempDir(), "MyApp.app")
	require.NoError(t, os.MkdirAll(filepath.Join(app, "Frameworks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "Info.plist"), []byte("<plist/>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(app, "Frameworks", "lib.dylib"), []byte("bin"), 0644))
	return app
}

func TestPublish_UploadsAndReturnsEndpointURL(t *testing.T) {
	store := &fakeStore{}
	outputs := t.TempDir()
	pub := New(store, config.StorageConfig{
		Bucket:   "artifacts",
		Region:   "us-east-1",
		Endpoint: "http://localhost:9000/",
	}, outputs)

	url, err := pub.Publish(context.Background(), "abc", makeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/artifacts/jobs/abc.zip", url)

	require.Len(t, store.inputs, 1)
	assert.Equal(t, "artifacts", *store.inputs[0].Bucket)
	assert.Equal(t, "jobs/abc.zip", *store.inputs[0].Key)

	// The packaged zip lands in the outputs directory.
	_, err = os.Stat(filepath.Join(outputs, "abc.zip"))
	assert.NoError(t, err)
}

func TestPublish_VirtualHostURLWithoutEndpoint(t *testing.T) {
	store := &fakeStore{}
	pub := New(store, config.StorageConfig{
		Bucket: "hangar-artifacts",
		Region: "eu-west-1",
	}, t.TempDir())

	url, err := pub.Publish(context.Background(), "xyz", makeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, "https://hangar-artifacts.s3.eu-west-1.amazonaws.com/jobs/xyz.zip", url)
}

func TestPublish_ZipPreservesBundleStructure(t *testing.T) {
	store := &fakeStore{}
	outputs := t.TempDir()
	pub := New(store, config.StorageConfig{Bucket: "b", Region: "r"}, outputs)

	_, err := pub.Publish(context.Background(), "abc", makeArtifact(t))
	require.NoError(t, err)

	reader, err := zip.OpenReader(filepath.Join(outputs, "abc.zip"))
	require.NoError(t, err)
	defer reader.Close()

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "MyApp.app/Info.plist")
	assert.Contains(t, names, "MyApp.app/Frameworks/lib.dylib")
}

func TestPublish_UploadFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("access denied")}
	pub := New(store, config.StorageConfig{Bucket: "b", Region: "r"}, t.TempDir())

	_, err := pub.Publish(context.Background(), "abc", makeArtifact(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
	assert.Contains(t, err.Error(), "access denied")
}

func TestPublish_MissingArtifact(t *testing.T) {
	store := &fakeStore{}
	pub := New(store, config.StorageConfig{Bucket: "b", Region: "r"}, t.TempDir())

	_, err := pub.Publish(context.Background(), "abc", filepath.Join(t.TempDir(), "nope.app"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)
}
