//go:build integration

package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ligustah/imgwarm/pkg/imagecache"
)

const (
	minioImage     = "minio/minio:latest"
	minioMCImage   = "minio/mc:latest"
	minioAlias     = "minio"
	minioAccessKey = "minioadmin"
	minioSecretKey = "minioadmin"
)

// MinioEnv is a running Minio server holding one bucket.
type MinioEnv struct {
	Container testcontainers.Container
	// BucketURL is an s3blob URL for the bucket, usable as a cache URL.
	BucketURL string
	Endpoint  string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

// OpenCache opens an image cache on the Minio bucket. The s3blob driver must
// be registered by the caller.
func (e *MinioEnv) OpenCache(ctx context.Context, opts ...imagecache.Option) (*imagecache.Cache, error) {
	return imagecache.Open(ctx, e.BucketURL, opts...)
}

// StartMinioContainer starts a Minio server with an empty bucket to use as
// an image cache. AWS credentials are exported to the test environment so
// that the s3blob driver picks them up.
func StartMinioContainer(t *testing.T, ctx context.Context, bucket string) *MinioEnv {
	t.Helper()

	// minio and mc talk over a private network
	netName := fmt.Sprintf("imgwarm-minio-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: netName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          minioImage,
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{netName},
			NetworkAliases: map[string][]string{netName: {minioAlias}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	makeBucket(t, ctx, netName, bucket)

	host, err := server.Host(ctx)
	if err != nil {
		t.Fatalf("get minio host: %v", err)
	}
	port, err := server.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get minio port: %v", err)
	}
	endpoint := host + ":" + port.Port()

	t.Setenv("AWS_ACCESS_KEY_ID", minioAccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioSecretKey)

	return &MinioEnv{
		Container: server,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucket, endpoint),
		Endpoint: endpoint,
	}
}

// makeBucket runs a one-shot mc container that creates bucket.
func makeBucket(t *testing.T, ctx context.Context, netName, bucket string) {
	t.Helper()

	script := fmt.Sprintf("mc alias set local http://%s:9000 %s %s && mc mb --ignore-existing local/%s",
		minioAlias, minioAccessKey, minioSecretKey, bucket)

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      minioMCImage,
			Networks:   []string{netName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{script},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}
	defer mc.Terminate(ctx)
}
