package fileutil

import (
	"os"
	"path/filepath"
)

// ReplaceFileContents atomically replaces file contents using a temp file and
// rename. Assumes same-filesystem operation (the temp file is created next to
// the target).
func ReplaceFileContents(filename string, buf []byte) error {
	dir := filepath.Dir(filename)
	tmpfile, err := os.CreateTemp(dir, ".tmp_"+filepath.Base(filename)+"_")
	if err != nil {
		return err
	}
	tmpName := tmpfile.Name()

	// clean up the temp file unless the rename consumed it
	defer func() {
		if _, err := os.Stat(tmpName); !os.IsNotExist(err) {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmpfile.Write(buf); err != nil {
		return err
	}

	if err := tmpfile.Chmod(0600); err != nil {
		return err
	}

	if err := tmpfile.Sync(); err != nil {
		return err
	}
	if err := tmpfile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, filename)
}

// TouchFile creates an empty file at the given path, creating parent
// directories if needed.
// Returns:
//   - (true, nil) if the file was created
//   - (false, nil) if the file already existed
//   - (false, error) if any error occurred
func TouchFile(filename string) (bool, error) {
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, err
		}
	}

	if _, err := os.Stat(filename); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	file, err := os.Create(filename)
	if err != nil {
		return false, err
	}
	defer file.Close()

	if err := file.Chmod(0600); err != nil {
		return false, err
	}

	return true, nil
}
