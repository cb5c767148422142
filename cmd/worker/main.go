package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/dedup"
	"github.com/your-org/photovault/internal/extract"
	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/ingest"
	"github.com/your-org/photovault/internal/jobs"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
	"github.com/your-org/photovault/internal/queue"
	"github.com/your-org/photovault/internal/scanner"
	"github.com/your-org/photovault/internal/source"
	"github.com/your-org/photovault/internal/storage"
	"github.com/your-org/photovault/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	onnxLibPath := flag.String("onnx-lib", "", "path to the onnxruntime shared library (default: auto-detect)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting PhotoVault worker",
		"workers", cfg.Jobs.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	if err := vision.InitRuntime(*onnxLibPath); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer vision.ShutdownRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx, cfg.Vision.EmbeddingDim, vision.FaceEncodingDim); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Library access and change detection
	src, err := source.NewLocal(cfg.Scanner.LibraryRoot)
	if err != nil {
		slog.Error("open library root", "root", cfg.Scanner.LibraryRoot, "error", err)
		os.Exit(1)
	}

	sc := scanner.New(src, db, cfg.Scanner.UseQuickDigest)
	dd := dedup.New(db, cfg.Scanner.NearDuplicateDistance)
	ing := ingest.New(src, dd, db, cfg.Scanner.UseQuickDigest)

	// Vision models. A missing model disables its capability; the worker
	// still serves scan and cluster jobs.
	embedder, faceSvc, objDet := loadModels(cfg.Vision)
	defer closeModels(embedder, faceSvc, objDet)

	resolver := faces.NewResolver(db, cfg.Faces.Tolerance)

	// A disabled capability must be a nil interface, not a typed nil.
	var (
		embedIface extract.Embedder
		faceIface  extract.FaceDetector
		objIface   extract.ObjectDetector
	)
	if embedder != nil {
		embedIface = embedder
	}
	if faceSvc != nil {
		faceIface = faceSvc
	}
	if objDet != nil {
		objIface = objDet
	}

	ext := extract.New(db, minioStore, src, resolver, embedIface, faceIface, objIface)

	runner := jobs.NewRunner(db, sc, ing, ext, resolver, producer,
		cfg.Jobs.WorkerCount, cfg.Jobs.CancelPollInterval)

	slog.Info("pipeline initialized",
		"embedding", embedIface != nil,
		"faces", faceIface != nil,
		"objects", objIface != nil,
	)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Start consuming job tasks
	err = consumer.ConsumeJobs(ctx, "pipeline-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.JobTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal job task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := runner.HandleTask(ctx, task); err != nil {
			return fmt.Errorf("run job %s: %w", task.JobID, err)
		}

		return nil
	}, cfg.Jobs.WorkerCount)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	// In-flight jobs see the cancelled context at their next unit
	// boundary and finish as cancelled.
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// loadModels opens whichever ONNX models exist under the configured
// models directory.
func loadModels(cfg config.VisionConfig) (*vision.Embedder, *vision.FaceService, *vision.ObjectDetector) {
	var (
		embedder *vision.Embedder
		faceSvc  *vision.FaceService
		objDet   *vision.ObjectDetector
	)

	embedPath := filepath.Join(cfg.ModelsDir, "clip_image.onnx")
	if fileExists(embedPath) {
		e, err := vision.NewEmbedder(embedPath, cfg.EmbeddingDim)
		if err != nil {
			slog.Warn("load embedding model", "path", embedPath, "error", err)
		} else {
			embedder = e
		}
	} else {
		slog.Warn("embedding model missing, capability disabled", "path", embedPath)
	}

	detPath := filepath.Join(cfg.ModelsDir, "face_detector.onnx")
	encPath := filepath.Join(cfg.ModelsDir, "face_encoder.onnx")
	if fileExists(detPath) && fileExists(encPath) {
		s, err := vision.NewFaceService(detPath, encPath, float32(cfg.DetectionThreshold))
		if err != nil {
			slog.Warn("load face models", "detector", detPath, "encoder", encPath, "error", err)
		} else {
			faceSvc = s
		}
	} else {
		slog.Warn("face models missing, capability disabled", "detector", detPath, "encoder", encPath)
	}

	objPath := filepath.Join(cfg.ModelsDir, "object_detector.onnx")
	if fileExists(objPath) {
		d, err := vision.NewObjectDetector(objPath, float32(cfg.ObjectThreshold))
		if err != nil {
			slog.Warn("load object model", "path", objPath, "error", err)
		} else {
			objDet = d
		}
	} else {
		slog.Warn("object model missing, capability disabled", "path", objPath)
	}

	return embedder, faceSvc, objDet
}

func closeModels(embedder *vision.Embedder, faceSvc *vision.FaceService, objDet *vision.ObjectDetector) {
	if embedder != nil {
		embedder.Close()
	}
	if faceSvc != nil {
		faceSvc.Close()
	}
	if objDet != nil {
		objDet.Close()
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
