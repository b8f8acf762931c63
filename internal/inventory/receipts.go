package inventory

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ReceiptsDirName is the subdirectory of the attachment tree holding receipts.
const ReceiptsDirName = "receipts"

const maxReceiptBase = 80

// Receipts stores receipt files under <uploads>/receipts.
type Receipts struct {
	dir string
}

// NewReceipts returns the receipt store for an attachment tree root.
func NewReceipts(uploadsDir string) *Receipts {
	return &Receipts{dir: filepath.Join(uploadsDir, ReceiptsDirName)}
}

// Dir returns the receipts directory.
func (r *Receipts) Dir() string {
	return r.dir
}

// Path resolves a stored receipt name to its file path. Names containing
// path separators or dot segments are rejected.
func (r *Receipts) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: bad receipt name %q", ErrInvalidInput, name)
	}
	return filepath.Join(r.dir, name), nil
}

// Save writes body as a new receipt named after the owning item and the
// uploaded filename. The file is written to a temp file and renamed.
func (r *Receipts) Save(itemID, filename string, body io.Reader) (string, error) {
	name := itemID + "-" + sanitizeFilename(filename)
	dst, err := r.Path(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("creating receipts directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".receipt-*.partial")
	if err != nil {
		return "", fmt.Errorf("creating temp receipt: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing receipt: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("storing receipt: %w", err)
	}
	return name, nil
}

// Remove deletes a receipt. A missing file is not an error.
func (r *Receipts) Remove(name string) error {
	p, err := r.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing receipt: %w", err)
	}
	return nil
}

// sanitizeFilename keeps letters, digits, dot, dash and underscore of the
// base name and replaces everything else with '_'.
func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "receipt"
	}
	if len(out) > maxReceiptBase {
		out = out[len(out)-maxReceiptBase:]
	}
	return out
}
