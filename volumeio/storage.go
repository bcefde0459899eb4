// Package volumeio loads patient image volumes from local disk or Google
// Storage.
package volumeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/zeebo/errs"
)

const gsPrefix = "gs://"

// IsGoogleStorage reports whether p is a gs:// URL.
func IsGoogleStorage(p string) bool {
	return strings.HasPrefix(p, gsPrefix)
}

// SplitGoogleStoragePath splits gs://bucket/object into bucket and object.
func SplitGoogleStoragePath(p string) (bucket, object string, err error) {
	pathParts := strings.SplitN(strings.TrimPrefix(p, gsPrefix), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("tried to split your google storage path into a bucket and an object, but got %d parts: %v", len(pathParts), pathParts)
	}
	return pathParts[0], pathParts[1], nil
}

// Join joins a patient directory and a file name. gs:// directories are
// joined with forward slashes.
func Join(dir, name string) string {
	if IsGoogleStorage(dir) {
		return gsPrefix + path.Join(strings.TrimPrefix(dir, gsPrefix), name)
	}
	return filepath.Join(dir, name)
}

// Base is the last element of a local path or gs:// URL.
func Base(p string) string {
	if IsGoogleStorage(p) {
		return path.Base(strings.TrimPrefix(p, gsPrefix))
	}
	return filepath.Base(p)
}

// Loader resolves patient file paths. Client is only needed for gs:// paths.
type Loader struct {
	Client *storage.Client
}

// Exists reports whether the file at p is present.
func (l *Loader) Exists(ctx context.Context, p string) (bool, error) {
	if !IsGoogleStorage(p) {
		_, err := os.Stat(p)
		if os.IsNotExist(err) {
			return false, nil
		}
		return err == nil, err
	}

	handle, err := l.object(p)
	if err != nil {
		return false, err
	}
	if _, err := handle.Attrs(ctx); errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	} else if err != nil {
		return false, pfx.Err(fmt.Errorf("%s: %w", p, err))
	}

	return true, nil
}

// MaybeFetchFromGoogleStorage returns a local path holding the contents of p.
// Local paths are returned as they are. gs:// objects are downloaded to a
// temporary file that keeps the object's extension, since the NIfTI reader
// detects compression from the file name. cleanup removes any temporary file
// and is always safe to call.
func (l *Loader) MaybeFetchFromGoogleStorage(ctx context.Context, p string) (local string, cleanup func(), err error) {
	cleanup = func() {}
	if !IsGoogleStorage(p) {
		return p, cleanup, nil
	}

	handle, err := l.object(p)
	if err != nil {
		return "", cleanup, err
	}

	rdr, err := handle.NewReader(ctx)
	if err != nil {
		return "", cleanup, pfx.Err(fmt.Errorf("%s: %w", p, err))
	}
	defer rdr.Close()

	base := Base(p)
	ext := ""
	if i := strings.Index(base, "."); i >= 0 {
		ext = base[i:]
	}

	f, err := os.CreateTemp("", "gxstats-*"+ext)
	if err != nil {
		return "", cleanup, pfx.Err(err)
	}
	cleanup = func() { os.Remove(f.Name()) }

	if _, err := io.Copy(f, rdr); err != nil {
		cleanup()
		return "", func() {}, pfx.Err(errs.Combine(fmt.Errorf("%s: %w", p, err), f.Close()))
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, pfx.Err(err)
	}

	return f.Name(), cleanup, nil
}

func (l *Loader) object(p string) (*storage.ObjectHandle, error) {
	if l.Client == nil {
		return nil, fmt.Errorf("%s: no google storage client configured", p)
	}

	bucketName, pathName, err := SplitGoogleStoragePath(p)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return l.Client.Bucket(bucketName).Object(pathName), nil
}
