package backup

import "errors"

// Snapshot errors.
var (
	// ErrMissingStore means the primary store file does not exist.
	ErrMissingStore = errors.New("store file missing")
	// ErrWriteFailed means the archive stream could not be written. Any
	// output already produced must be discarded.
	ErrWriteFailed = errors.New("writing archive failed")
)

// Restore errors. Everything up to ErrRollbackUnavailable leaves the live
// data untouched and may be retried with a corrected upload.
var (
	ErrUploadTooLarge        = errors.New("upload too large")
	ErrInvalidFormat         = errors.New("invalid archive format")
	ErrCorruptArchive        = errors.New("corrupt archive")
	ErrMissingStoreInArchive = errors.New("archive contains no store file")
	// ErrRollbackUnavailable means the live data could not be set aside, so
	// nothing was replaced.
	ErrRollbackUnavailable = errors.New("could not set aside live data")

	// ErrReplaceFailed and ErrReconnectFailed mean the live data may have
	// been changed.
	ErrReplaceFailed   = errors.New("replacing live data failed")
	ErrReconnectFailed = errors.New("reopening store failed")

	ErrRestoreInProgress = errors.New("a restore is already in progress")
	ErrRestartRequired   = errors.New("an earlier restore left the data in an unknown state; restart required")
)

// LiveStateChanged reports whether err comes from a restore step that may
// have modified the live store or attachment tree.
func LiveStateChanged(err error) bool {
	return errors.Is(err, ErrReplaceFailed) ||
		errors.Is(err, ErrReconnectFailed) ||
		errors.Is(err, ErrRestartRequired)
}
