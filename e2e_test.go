package hlstranscoder

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/google/uuid"
	"github.com/krelinga/hls-transcoder/internal"
	"github.com/krelinga/hls-transcoder/vtrest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
	bucketName    = "media"
)

func TestStreamEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg is required to generate the test source")
	}
	ctx := context.Background()

	// Generate a 12 second 640x360 source with audio.
	srcDir := t.TempDir()
	sourceFile := filepath.Join(srcDir, "sample.mp4")
	gen := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=12:size=640x360:rate=25",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=12",
		"-c:v", "libx264", "-c:a", "aac", "-shortest", sourceFile)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Fatalf("failed to generate test source: %v\n%s", err, out)
	}

	net, err := network.New(ctx, network.WithCheckDuplicate())
	if err != nil {
		t.Fatalf("failed to create network: %v", err)
	}
	networkName := net.Name

	dbName := "hlstranscoder"
	dbUser := "postgres"
	dbPassword := "postgres"

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       dbName,
				"POSTGRES_USER":     dbUser,
				"POSTGRES_PASSWORD": dbPassword,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"postgres"}},
			WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		dumpContainerLogs(t, ctx, postgresContainer, "postgres")
	})

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			WaitingFor:     wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start minio container: %v", err)
	}
	t.Cleanup(func() {
		dumpContainerLogs(t, ctx, minioContainer, "minio")
	})
	if code, _, err := minioContainer.Exec(ctx, []string{"mkdir", "-p", "/data/" + bucketName}); err != nil || code != 0 {
		t.Fatalf("failed to create bucket: code %d: %v", code, err)
	}

	minioHost, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get minio host: %v", err)
	}
	minioPort, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("failed to get minio mapped port: %v", err)
	}
	storage, err := internal.NewS3Storage(ctx, &internal.StorageConfig{
		Bucket:    bucketName,
		Region:    "us-east-1",
		Endpoint:  fmt.Sprintf("http://%s:%s", minioHost, minioPort.Port()),
		AccessKey: minioUser,
		SecretKey: minioPassword,
	})
	if err != nil {
		t.Fatalf("failed to create storage client: %v", err)
	}
	if _, err := storage.UploadTree(ctx, srcDir, "uploads", nil); err != nil {
		t.Fatalf("failed to upload test source: %v", err)
	}

	env := map[string]string{
		"VT_DB_HOST":       "postgres",
		"VT_DB_PORT":       "5432",
		"VT_DB_USER":       dbUser,
		"VT_DB_PASSWORD":   dbPassword,
		"VT_DB_NAME":       dbName,
		"VT_SERVER_PORT":   "8080",
		"VT_S3_BUCKET":     bucketName,
		"VT_S3_ENDPOINT":   "http://minio:9000",
		"VT_S3_ACCESS_KEY": minioUser,
		"VT_S3_SECRET_KEY": minioPassword,
		"VT_LOG_LEVEL":     "debug",
	}

	serverContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:    ".",
				Dockerfile: "Dockerfile",
				BuildArgs:  map[string]*string{},
				BuildOptionsModifier: func(buildOptions *build.ImageBuildOptions) {
					buildOptions.Target = "server"
				},
			},
			ExposedPorts:   []string{"8080/tcp"},
			Env:            env,
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"server"}},
			WaitingFor:     wait.ForLog("Starting HTTP server on port 8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start server container: %v", err)
	}
	t.Cleanup(func() {
		dumpContainerLogs(t, ctx, serverContainer, "server")
	})

	workerContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			FromDockerfile: testcontainers.FromDockerfile{
				Context:    ".",
				Dockerfile: "Dockerfile",
				BuildArgs:  map[string]*string{},
				BuildOptionsModifier: func(buildOptions *build.ImageBuildOptions) {
					buildOptions.Target = "worker"
				},
			},
			Env:            env,
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"worker"}},
			WaitingFor:     wait.ForLog("Worker started, waiting for jobs..."),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start worker container: %v", err)
	}
	t.Cleanup(func() {
		dumpContainerLogs(t, ctx, workerContainer, "worker")
	})

	mappedPort, err := serverContainer.MappedPort(ctx, "8080")
	if err != nil {
		t.Fatalf("failed to get server mapped port: %v", err)
	}
	serverHost, err := serverContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get server host: %v", err)
	}
	client, err := vtrest.NewClient(fmt.Sprintf("http://%s:%s", serverHost, mappedPort.Port()))
	if err != nil {
		t.Fatalf("failed to create vtrest client: %v", err)
	}

	videoID := uuid.NewString()
	createResp, err := client.CreateStream(ctx, vtrest.CreateStreamRequest{
		Key:     "uploads/sample.mp4",
		VideoID: videoID,
	})
	if err != nil {
		t.Fatalf("failed to create stream job: %v", err)
	}
	if createResp.JSON201 == nil {
		t.Fatalf("expected 201 response, got status %d: %s", createResp.StatusCode(), string(createResp.Body))
	}
	t.Logf("Created stream job for video %s", videoID)

	deadline := time.Now().Add(10 * time.Minute)
	var final *vtrest.StreamStatus
	for time.Now().Before(deadline) {
		statusResp, err := client.GetStream(ctx, videoID)
		if err != nil {
			t.Fatalf("failed to get stream status: %v", err)
		}
		if statusResp.JSON200 == nil {
			t.Fatalf("expected 200 response, got status %d: %s", statusResp.StatusCode(), string(statusResp.Body))
		}
		job := statusResp.JSON200
		t.Logf("Job state: %s, progress: %d%%", job.State, job.Progress)
		if job.State.IsTerminal() {
			final = job
			break
		}
		time.Sleep(2 * time.Second)
	}
	if final == nil {
		t.Fatal("job did not finish before the deadline")
	}
	if final.State != vtrest.Completed {
		msg := ""
		if final.Error != nil {
			msg = *final.Error
		}
		t.Fatalf("expected job to complete, got %s: %s", final.State, msg)
	}
	if final.Progress != 100 {
		t.Errorf("expected progress 100, got %d", final.Progress)
	}

	prefix := internal.RemoteOutputPrefix(videoID)
	for _, name := range []string{
		internal.MasterPlaylistName,
		"360p/" + internal.VariantPlaylistName,
		"240p/" + internal.VariantPlaylistName,
		"144p/" + internal.VariantPlaylistName,
		internal.ThumbnailsVTTName,
		internal.MainThumbnail,
		internal.PosterThumbnail,
	} {
		ok, err := storage.Verify(ctx, path.Join(prefix, name))
		if err != nil {
			t.Fatalf("failed to verify %s: %v", name, err)
		}
		if !ok {
			t.Errorf("expected %s to be published", name)
		}
	}
	if ok, _ := storage.Verify(ctx, path.Join(prefix, "480p", internal.VariantPlaylistName)); ok {
		t.Error("480p must not be produced for a 360p source")
	}

	dupResp, err := client.CreateStream(ctx, vtrest.CreateStreamRequest{
		Key:     "uploads/sample.mp4",
		VideoID: videoID,
	})
	if err != nil {
		t.Fatalf("failed to send duplicate stream request: %v", err)
	}
	if dupResp.JSON409 == nil {
		t.Fatalf("expected 409 response for duplicate video, got status %d: %s", dupResp.StatusCode(), string(dupResp.Body))
	}
	t.Logf("Duplicate video correctly rejected with 409: %s", dupResp.JSON409.Message)
}

func dumpContainerLogs(t *testing.T, ctx context.Context, container testcontainers.Container, name string) {
	logs, err := container.Logs(ctx)
	if err != nil {
		t.Logf("failed to get %s container logs: %v", name, err)
		return
	}
	defer logs.Close()

	logBytes, err := io.ReadAll(logs)
	if err != nil {
		t.Logf("failed to read %s container logs: %v", name, err)
		return
	}

	t.Logf("=== %s container logs ===\n%s", name, string(logBytes))
}
