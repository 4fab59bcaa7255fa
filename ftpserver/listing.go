package ftpserver

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Date layouts used by LIST/STAT and MLSD/MLST.
const (
	dateFormatStatRecent = "Jan _2 15:04"
	dateFormatStatOld    = "Jan _2  2006"
	dateFormatStatSwitch = time.Hour * 24 * 30 * 6
	dateFormatMLSx       = "20060102150405"
)

// listDirectory returns the entries of path, preferring the driver's
// ClientDriverExtensionFileList when it implements one, falling back to
// Open+Readdir for a plain afero.Fs.
func (s *FTPSession) listDirectory(path string) ([]os.FileInfo, error) {
	if lister, ok := s.driver.(ClientDriverExtensionFileList); ok {
		return lister.ReadDir(path)
	}

	dir, err := s.driver.Open(path)
	if err != nil {
		return nil, err
	}

	defer s.closeDirectory(path, dir)

	return dir.Readdir(-1)
}

func (s *FTPSession) closeDirectory(path string, dir afero.File) {
	if err := dir.Close(); err != nil {
		s.logger.Warn("couldn't close directory", "err", err, "path", path)
	}
}

// fileStat renders a Unix-style LIST/STAT line.
func (s *FTPSession) fileStat(file os.FileInfo) string {
	dateFormat := dateFormatStatRecent
	if s.connectedAt.Sub(file.ModTime()) > dateFormatStatSwitch {
		dateFormat = dateFormatStatOld
	}

	return fmt.Sprintf("%s 1 ftp ftp %12d %s %s",
		file.Mode(), file.Size(), file.ModTime().Format(dateFormat), file.Name())
}

// mlsxFacts renders one RFC 3659 MLST/MLSD fact line.
func mlsxFacts(file os.FileInfo) string {
	kind := "file"
	if file.IsDir() {
		kind = "dir"
	}

	return fmt.Sprintf("Type=%s;Size=%d;Modify=%s; %s",
		kind, file.Size(), file.ModTime().Format(dateFormatMLSx), file.Name())
}
