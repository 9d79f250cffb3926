package dataset

import (
	"bufio"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WriteParquet writes the rows to a Parquet file, with the schema derived from T's "parquet" struct tags
// (e.g. features.TrainingRow or features.InferenceRow).
//
// The file is written to a temporary file and moved into place when complete, so readers never see a
// partial file. Concurrent writers of the same path are serialized with a file lock.
func WriteParquet[T any](filePath string, rows []T) error {
	return writeAtomically(filePath, func(w io.Writer) error {
		return parquet.Write(w, rows)
	})
}

// WriteJSONL writes one JSON record per row. It is written atomically, like WriteParquet.
func WriteJSONL[T any](filePath string, rows []T) error {
	return writeAtomically(filePath, func(w io.Writer) error {
		buf := bufio.NewWriter(w)
		enc := json.NewEncoder(buf)
		for i := range rows {
			if err := enc.Encode(&rows[i]); err != nil {
				return errors.Wrapf(err, "failed to encode row #%d", i)
			}
		}
		return buf.Flush()
	})
}

// writeAtomically writes filePath with write, through a temporary file renamed at the end, while holding
// the lock file filePath+".lock". The temporary and lock files are removed whether it succeeds or not.
func writeAtomically(filePath string, write func(w io.Writer) error) error {
	lockPath := filePath + ".lock"
	var mainErr error
	errLock := execOnFileLock(lockPath, func() {
		defer func() {
			if err := os.Remove(lockPath); err != nil {
				klog.Warningf("error removing lock file %q: %+v", lockPath, err)
			}
		}()
		tmpPath := filePath + ".tmp"
		tmpFile, err := os.Create(tmpPath)
		if err != nil {
			mainErr = errors.Wrapf(err, "failed to create temporary file %q", tmpPath)
			return
		}
		if err := write(tmpFile); err != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
			mainErr = errors.WithMessagef(err, "while writing %q", filePath)
			return
		}
		if err := tmpFile.Close(); err != nil {
			_ = os.Remove(tmpPath)
			mainErr = errors.Wrapf(err, "failed to close temporary file %q", tmpPath)
			return
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			_ = os.Remove(tmpPath)
			mainErr = errors.Wrapf(err, "failed to move %q to %q", tmpPath, filePath)
		}
	})
	if mainErr != nil {
		return mainErr
	}
	if errLock != nil {
		return errors.WithMessagef(errLock, "while locking %q to write %q", lockPath, filePath)
	}
	klog.V(1).Infof("wrote %q", filePath)
	return nil
}

// execOnFileLock opens the lockPath file (or creates if it doesn't yet exist), locks it, and executes the function.
// If the lockPath is already locked, it polls with a 100 to 200 milliseconds period (randomly), until it
// acquires the lock.
func execOnFileLock(lockPath string, fn func()) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return errors.Wrapf(err, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		time.Sleep(time.Millisecond * time.Duration(100+rand.Intn(100)))
	}

	// Unlock even if fn panics.
	defer func() {
		unlockErr := fileLock.Unlock()
		if unlockErr != nil {
			if err == nil {
				err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
			} else {
				klog.Errorf("Error unlocking file %q: %v", lockPath, unlockErr)
			}
		}
	}()

	fn()
	return
}
