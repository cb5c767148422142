// Package vision holds the ONNX-backed capability handles: visual
// embedding, face detection+encoding, and object detection. Models are
// loaded once per process and shared read-only by concurrent workers.
package vision

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	rtOnce sync.Once
	rtErr  error
	rtUp   bool
)

// InitRuntime initialises the ONNX Runtime environment exactly once.
// Safe for concurrent first-use; later calls return the first result.
func InitRuntime(libPath string) error {
	rtOnce.Do(func() {
		if libPath == "" {
			libPath = defaultLibPath()
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			rtErr = fmt.Errorf("init onnx runtime: %w", err)
			return
		}
		rtUp = true
	})
	return rtErr
}

// ShutdownRuntime tears down the ONNX environment. Call once at process
// exit, after all sessions are closed.
func ShutdownRuntime() {
	if rtUp {
		_ = ort.DestroyEnvironment()
		rtUp = false
	}
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
