// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tunnel

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
)

// releaseBase hosts the release archives. Tests substitute an httptest
// server.
var releaseBase = "https://github.com/v2fly/v2ray-core/releases/latest/download/"

// maxArchive bounds the downloaded release archive.
const maxArchive = 128 << 20

// binaryName is the executable inside the release archive.
func binaryName(goos string) string {
	if goos == "windows" {
		return "v2ray.exe"
	}
	return "v2ray"
}

// archiveCandidates lists release archive names for the host, most
// specific first.
func archiveCandidates(goos, goarch string) []string {
	arm := goarch == "arm64" || goarch == "arm"
	switch goos {
	case "darwin":
		if arm {
			return []string{"v2ray-macos-arm64-v8a.zip", "v2ray-macos-arm64.zip"}
		}
		return []string{"v2ray-macos-64.zip"}
	case "windows":
		if arm {
			return []string{"v2ray-windows-arm64-v8a.zip", "v2ray-windows-arm64.zip"}
		}
		return []string{"v2ray-windows-64.zip"}
	case "linux":
		if arm {
			return []string{"v2ray-linux-arm64-v8a.zip", "v2ray-linux-arm64.zip"}
		}
		return []string{"v2ray-linux-64.zip", "v2ray-linux-amd64.zip"}
	default:
		return []string{"v2ray-linux-64.zip"}
	}
}

// EnsureBinary returns the tunnel binary under root/bin, downloading and
// extracting the release archive for the host on first use.
func EnsureBinary(ctx context.Context, client *http.Client, root string) (string, error) {
	binDir := filepath.Join(root, "bin")
	bin := filepath.Join(binDir, binaryName(runtime.GOOS))
	if _, err := os.Stat(bin); err == nil {
		return bin, nil
	}
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", binDir, err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	var errs []error
	for _, name := range archiveCandidates(runtime.GOOS, runtime.GOARCH) {
		data, err := fetchArchive(ctx, client, releaseBase+name)
		if err == nil {
			err = extractBinary(data, binDir)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if _, err := os.Stat(bin); err == nil {
			return bin, nil
		}
		errs = append(errs, fmt.Errorf("%s: archive has no %s", name, binaryName(runtime.GOOS)))
	}
	return "", fmt.Errorf("installing tunnel binary: %w", errors.Join(errs...))
}

func fetchArchive(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxArchive))
}

// extractBinary writes the executable and its geo data files into dir.
func extractBinary(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	wanted := map[string]os.FileMode{
		"v2ray":       0o755,
		"v2ray.exe":   0o755,
		"geoip.dat":   0o644,
		"geosite.dat": 0o644,
	}
	for _, f := range zr.File {
		name := path.Base(f.Name)
		mode, ok := wanted[name]
		if !ok || f.FileInfo().IsDir() {
			continue
		}
		if err := writeMember(f, filepath.Join(dir, name), mode); err != nil {
			return err
		}
	}
	return nil
}

func writeMember(f *zip.File, dest string, mode os.FileMode) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer src.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".install-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	_, copyErr := io.Copy(tmpFile, io.LimitReader(src, maxArchive))
	closeErr := tmpFile.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("extracting %s: %w", f.Name, errors.Join(copyErr, closeErr))
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", dest, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s: %w", dest, err)
	}
	return nil
}
