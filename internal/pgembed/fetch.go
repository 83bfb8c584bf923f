package pgembed

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/ulikunitz/xz"
)

const (
	artifactGroupPath = "io/zonky/test/postgres"
	artifactPrefix    = "embedded-postgres-binaries"

	cacheLockRetry  = 250 * time.Millisecond
	downloadTimeout = 10 * time.Minute
	cacheDirPerm    = 0o755
)

// platform names a binaries artifact, e.g. linux/amd64 or darwin/arm64v8.
type platform struct {
	OS   string
	Arch string
}

func (p platform) String() string { return p.OS + "-" + p.Arch }

var archNames = map[string]string{
	"amd64":   "amd64",
	"arm64":   "arm64v8",
	"arm":     "arm32v7",
	"386":     "i386",
	"ppc64le": "ppc64le",
}

func currentPlatform() (platform, error) {
	switch runtime.GOOS {
	case "linux", "darwin":
	default:
		return platform{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, runtime.GOOS)
	}
	arch, ok := archNames[runtime.GOARCH]
	if !ok {
		return platform{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
	return platform{OS: runtime.GOOS, Arch: arch}, nil
}

// artifactURL returns the Maven URL of the binaries jar.
func artifactURL(repo, version string, p platform) string {
	artifact := artifactPrefix + "-" + p.String()
	return fmt.Sprintf("%s/%s/%s/%s/%s-%s.jar", repo, artifactGroupPath, artifact, version, artifact, version)
}

// hasBinaries reports whether dir looks like an engine installation.
func hasBinaries(dir string) bool {
	for _, name := range []string{"postgres", "initdb"} {
		info, err := os.Stat(filepath.Join(dir, "bin", name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// fetcher downloads and unpacks binaries into a per-version cache directory.
type fetcher struct {
	repo     string
	version  string
	cacheDir string
	platform platform
	client   *http.Client
	logger   Logger
}

// resolveBinaries returns the directory holding bin/postgres for s.
func resolveBinaries(ctx context.Context, s *Settings) (string, error) {
	if s.BinaryDir != "" {
		if !hasBinaries(s.BinaryDir) {
			return "", fmt.Errorf("binary dir %s has no bin/postgres and bin/initdb", s.BinaryDir)
		}
		return s.BinaryDir, nil
	}

	p, err := currentPlatform()
	if err != nil {
		return "", err
	}
	f := &fetcher{
		repo:     s.RepositoryURL,
		version:  s.Version,
		cacheDir: s.CacheDir,
		platform: p,
		client:   &http.Client{Timeout: downloadTimeout},
		logger:   s.Logger,
	}
	return f.ensure(ctx)
}

func (f *fetcher) targetDir() string {
	return filepath.Join(f.cacheDir, f.version, f.platform.String())
}

// ensure returns the cached installation, downloading it first if needed.
// A file lock keeps concurrent processes from unpacking the same version twice.
func (f *fetcher) ensure(ctx context.Context) (string, error) {
	dir := f.targetDir()
	if hasBinaries(dir) {
		return dir, nil
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, cacheDirPerm); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLockContext(ctx, cacheLockRetry)
	if err != nil {
		return "", fmt.Errorf("locking cache: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("locking cache: %w", ctx.Err())
	}
	defer lock.Unlock() //nolint:errcheck // Released on process exit anyway

	if hasBinaries(dir) {
		return dir, nil
	}

	url := artifactURL(f.repo, f.version, f.platform)
	f.logger.Info("downloading engine binaries", "url", url)

	jar, err := f.download(ctx, url, parent)
	if err != nil {
		return "", err
	}
	defer os.Remove(jar) //nolint:errcheck // Temp file

	staging, err := os.MkdirTemp(parent, filepath.Base(dir)+".partial-")
	if err != nil {
		return "", fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck // Empty after a successful rename

	if err := unpackJar(jar, staging); err != nil {
		return "", err
	}
	if !hasBinaries(staging) {
		return "", fmt.Errorf("archive from %s has no bin/postgres", url)
	}

	if err := os.Rename(staging, dir); err != nil {
		return "", fmt.Errorf("installing binaries: %w", err)
	}

	f.logger.Info("engine binaries installed", "dir", dir, "version", f.version)
	return dir, nil
}

// download streams url into a temp file under dir and returns its path.
func (f *fetcher) download(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, "binaries-*.jar")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()           //nolint:errcheck // Error path
		os.Remove(tmp.Name()) //nolint:errcheck // Error path
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // Error path
		return "", fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	return tmp.Name(), nil
}

// unpackJar finds the .txz entry inside the jar and extracts it into dest.
func unpackJar(jarPath, dest string) error {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return fmt.Errorf("opening jar: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if !strings.HasSuffix(entry.Name, ".txz") {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", entry.Name, err)
		}
		err = extractTxz(rc, dest)
		rc.Close() //nolint:errcheck // Read-only
		if err != nil {
			return fmt.Errorf("extracting %s: %w", entry.Name, err)
		}
		return nil
	}
	return errors.New("jar contains no .txz archive")
}

// extractTxz unpacks an xz-compressed tar stream into dest. Entries that
// would land outside dest are rejected.
func extractTxz(r io.Reader, dest string) error {
	xr, err := xz.NewReader(r)
	if err != nil {
		return fmt.Errorf("reading xz stream: %w", err)
	}

	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("illegal path %q in archive", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !filepath.IsLocal(filepath.Join(filepath.Dir(name), hdr.Linkname)) {
				return fmt.Errorf("illegal symlink %q -> %q in archive", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), cacheDirPerm); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}

		case tar.TypeLink:
			linkName := filepath.Clean(hdr.Linkname)
			if !filepath.IsLocal(linkName) {
				return fmt.Errorf("illegal hard link %q -> %q in archive", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), cacheDirPerm); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(dest, linkName), target); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil { //nolint:gosec // Archive comes from a pinned repository
		f.Close() //nolint:errcheck // Error path
		return err
	}
	return f.Close()
}
