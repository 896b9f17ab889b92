package segment

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DataDirName     = "data"
	IndexDirName    = "index"
	DataFileSuffix  = ".data"
	IndexFileSuffix = ".index"

	// TimestampLayout is the yyyyMMddHHmmss component of segment names.
	TimestampLayout = "20060102150405"
)

// Name identifies one segment pair: {host}_{yyyyMMddHHmmss}_{seq}.
type Name struct {
	Host    string
	Created time.Time
	Seq     uint64
}

func (n Name) String() string {
	return fmt.Sprintf("%s_%s_%d", n.Host, n.Created.Format(TimestampLayout), n.Seq)
}

// DataPath returns {baseDir}/data/{name}.data.
func (n Name) DataPath(baseDir string) string {
	return filepath.Join(baseDir, DataDirName, n.String()+DataFileSuffix)
}

// IndexPath returns {baseDir}/index/{name}.index.
func (n Name) IndexPath(baseDir string) string {
	return filepath.Join(baseDir, IndexDirName, n.String()+IndexFileSuffix)
}

// ParseName parses a data or index file name. The host may itself contain
// underscores, so the name is split from the right.
func ParseName(fileName string) (Name, error) {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(strings.TrimSuffix(base, DataFileSuffix), IndexFileSuffix)

	seqIdx := strings.LastIndexByte(base, '_')
	if seqIdx <= 0 {
		return Name{}, fmt.Errorf("segment name %q has no sequence", fileName)
	}
	seq, err := strconv.ParseUint(base[seqIdx+1:], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("segment name %q: bad sequence: %w", fileName, err)
	}
	rest := base[:seqIdx]
	tsIdx := strings.LastIndexByte(rest, '_')
	if tsIdx <= 0 {
		return Name{}, fmt.Errorf("segment name %q has no timestamp", fileName)
	}
	created, err := time.ParseInLocation(TimestampLayout, rest[tsIdx+1:], time.Local)
	if err != nil {
		return Name{}, fmt.Errorf("segment name %q: bad timestamp: %w", fileName, err)
	}
	return Name{Host: rest[:tsIdx], Created: created, Seq: seq}, nil
}

// sanitizeHost keeps names portable: path separators and spaces become '-'.
func sanitizeHost(h string) string {
	if h == "" {
		return "localhost"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '-'
		}
		return r
	}, h)
}
