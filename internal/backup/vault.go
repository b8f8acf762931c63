package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"boxes-go/internal/boxes"
)

// EncryptedSuffix marks archives encrypted before upload.
const EncryptedSuffix = ".age"

// Push takes a snapshot and uploads it to v under its archive filename.
// When enc is non-nil the archive is encrypted on the way and the key gets
// EncryptedSuffix. Returns the vault key.
func (b *Builder) Push(ctx context.Context, v boxes.Vault, enc boxes.Encryptor) (string, *Manifest, error) {
	snap, err := b.Prepare(ctx)
	if err != nil {
		return "", nil, err
	}
	defer snap.Close()

	// The archive is spooled next to the snapshot so uploads can retry and
	// report a size.
	spool, err := os.CreateTemp(snap.dir.Path(), "archive-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("creating spool file: %w", err)
	}
	defer spool.Close()

	m, err := snap.Stream(ctx, spool)
	if err != nil {
		return "", nil, err
	}
	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", nil, fmt.Errorf("sizing archive: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", nil, fmt.Errorf("rewinding archive: %w", err)
	}

	key := snap.Filename()
	var body io.Reader = spool
	if enc != nil {
		key += EncryptedSuffix
		size = -1
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(enc.Encrypt(spool, pw))
		}()
		defer pr.Close()
		body = pr
	}

	if err := v.PutArchive(ctx, key, body, size); err != nil {
		return "", nil, fmt.Errorf("uploading to vault %s: %w", v.Name(), err)
	}
	b.logger.Info("archive pushed", "vault", v.Name(), "key", key, "encrypted", enc != nil)
	return key, m, nil
}

// Fetch downloads the archive stored under key in v into a file in dir and
// returns its path. Encrypted archives need dec. The caller removes the file.
func Fetch(ctx context.Context, v boxes.Vault, key string, dec boxes.DecryptionContext, dir string) (string, error) {
	encrypted := strings.HasSuffix(key, EncryptedSuffix)
	if encrypted && dec == nil {
		return "", fmt.Errorf("archive %s is encrypted; unlock the private key first", key)
	}

	f, err := os.CreateTemp(dir, "fetched-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	path := f.Name()
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(path)
		}
	}()

	if encrypted {
		pr, pw := io.Pipe()
		done := make(chan error, 1)
		go func() {
			done <- dec.Decrypt(pr, f)
			pr.Close()
		}()
		getErr := v.GetArchive(ctx, key, pw)
		pw.CloseWithError(getErr)
		decErr := <-done
		switch {
		case decErr != nil && (getErr == nil || errors.Is(getErr, io.ErrClosedPipe)):
			return "", fmt.Errorf("decrypting archive: %w", decErr)
		default:
			err = getErr
		}
	} else {
		err = v.GetArchive(ctx, key, f)
	}
	if err != nil {
		return "", fmt.Errorf("downloading %s from vault %s: %w", key, v.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing download: %w", err)
	}

	ok = true
	return filepath.Clean(path), nil
}
