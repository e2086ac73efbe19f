package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// sharedLibraryName is the ONNX Runtime library file name for goos.
func sharedLibraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime.1.20.0.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so.1.20.0"
	}
}

// locateFiles resolves the ONNX Runtime library inside libDir and checks
// that the model file exists.
func locateFiles(libDir, modelPath string) (string, string, error) {
	absModelPath, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve model path: %w", err)
	}
	if _, err := os.Stat(absModelPath); err != nil {
		return "", "", fmt.Errorf("model file not found: %s", absModelPath)
	}

	libPath, err := filepath.Abs(filepath.Join(libDir, sharedLibraryName(runtime.GOOS)))
	if err != nil {
		return "", "", fmt.Errorf("resolve library path: %w", err)
	}
	if _, err := os.Stat(libPath); err != nil {
		return "", "", fmt.Errorf("onnxruntime library not found: %s", libPath)
	}

	return libPath, absModelPath, nil
}
