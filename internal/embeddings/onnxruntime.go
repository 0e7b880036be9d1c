package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultONNXRuntimeVersion is the ONNX runtime release fastembed-go is built against.
const DefaultONNXRuntimeVersion = "1.23.0"

const onnxReleaseBaseURL = "https://github.com/microsoft/onnxruntime/releases/download"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX runtime release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchMap = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

var libraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

func getPlatformArchive(goos, goarch string) (string, error) {
	arch, ok := platformArchMap[goos][goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return arch, nil
}

func getLibraryName(goos string) string {
	if name, ok := libraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

// DefaultONNXInstallDir is where `contextdb setup` installs the runtime.
func DefaultONNXInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "contextdb", "lib")
}

// ONNXInstaller downloads the ONNX runtime shared library needed by the
// fastembed provider.
type ONNXInstaller struct {
	// Dir receives the library files. Defaults to DefaultONNXInstallDir.
	Dir string
	// Version defaults to DefaultONNXRuntimeVersion.
	Version string
	// BaseURL of the release download location.
	BaseURL string
	Client  *http.Client

	goos, goarch string
}

func (i *ONNXInstaller) defaults() {
	if i.Dir == "" {
		i.Dir = DefaultONNXInstallDir()
	}
	if i.Version == "" {
		i.Version = DefaultONNXRuntimeVersion
	}
	if i.BaseURL == "" {
		i.BaseURL = onnxReleaseBaseURL
	}
	if i.Client == nil {
		i.Client = http.DefaultClient
	}
	if i.goos == "" {
		i.goos, i.goarch = runtime.GOOS, runtime.GOARCH
	}
}

// LibraryPath returns the installed library location, or "" when absent.
// ONNX_PATH takes precedence over the managed install.
func (i *ONNXInstaller) LibraryPath() string {
	if envPath := os.Getenv("ONNX_PATH"); envPath != "" {
		return envPath
	}
	i.defaults()
	managed := filepath.Join(i.Dir, getLibraryName(i.goos))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// Install downloads and unpacks the runtime for the current platform and
// returns the library path.
func (i *ONNXInstaller) Install(ctx context.Context) (string, error) {
	i.defaults()

	platform, err := getPlatformArchive(i.goos, i.goarch)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/v%s/onnxruntime-%s-%s.tgz", strings.TrimRight(i.BaseURL, "/"), i.Version, platform, i.Version)

	if err := os.MkdirAll(i.Dir, 0700); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := i.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading ONNX runtime: status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, i.Version)
	libName := getLibraryName(i.goos)
	if err := extractLibraries(resp.Body, i.Dir, prefix, libName); err != nil {
		return "", fmt.Errorf("extracting archive: %w", err)
	}
	return filepath.Join(i.Dir, libName), nil
}

// extractLibraries copies regular files and symlinks under prefix into
// destDir, flattening paths. It fails if libName was not among them.
func extractLibraries(r io.Reader, destDir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var found bool
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}
		filename := filepath.Base(name)
		destPath := filepath.Join(destDir, filename)
		isLib := filename == libName || strings.HasPrefix(filename, libName+".")

		switch header.Typeflag {
		case tar.TypeSymlink:
			// Only same-directory links; anything else could escape destDir.
			if strings.Contains(header.Linkname, "/") {
				continue
			}
			_ = os.Remove(destPath)
			if err := os.Symlink(header.Linkname, destPath); err != nil {
				continue
			}
		case tar.TypeReg:
			out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("creating file %s: %w", filename, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("writing file %s: %w", filename, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("closing file %s: %w", filename, err)
			}
		default:
			continue
		}
		if isLib {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

// prepareONNXRuntime points fastembed-go at a managed runtime install when
// ONNX_PATH is not set. Without either, fastembed-go falls back to the
// system library search path.
func prepareONNXRuntime() error {
	if os.Getenv("ONNX_PATH") != "" {
		return nil
	}
	path := (&ONNXInstaller{}).LibraryPath()
	if path == "" {
		return nil
	}
	return os.Setenv("ONNX_PATH", path)
}
