package segment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexuslog/core"
)

// IndexCapacityDivisor sizes the index segment relative to the data segment.
const IndexCapacityDivisor = 10

// DefaultCapacity is the default data segment capacity (64 MiB).
const DefaultCapacity = 64 * 1024 * 1024

// PairInfo describes a segment pair at creation or close time.
type PairInfo struct {
	Name      Name
	DataPath  string
	IndexPath string
	DataSize  int64
	IndexSize int64
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	BaseDir      string
	DataCapacity int64
	Host         string
	Codec        core.Codec
	Preallocate  bool
	Logger       *slog.Logger

	// OnCreate and OnClose are called from the writing goroutine after a pair
	// is opened or closed.
	OnCreate func(PairInfo)
	OnClose  func(PairInfo)

	// Now is the clock used for segment names. Defaults to time.Now.
	Now func() time.Time

	// FirstSeq is the sequence after which numbering continues, so a store
	// restarted inside one process keeps its names unique.
	FirstSeq uint64
}

// Manager owns the current (data, index) segment pair and rolls both
// together. Like File it is single-writer.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	seq   atomic.Uint64
	name  Name
	data  *File
	index *File

	// published for readers on other goroutines
	current   atomic.Pointer[Name]
	dataSize  atomic.Int64
	indexSize atomic.Int64
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("segment manager: base dir must be set")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("segment manager: codec must be set")
	}
	if opts.DataCapacity <= 0 {
		opts.DataCapacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Host == "" {
		opts.Host, _ = os.Hostname()
	}
	opts.Host = sanitizeHost(opts.Host)
	m := &Manager{
		opts:   opts,
		logger: opts.Logger.With("component", "SegmentManager"),
	}
	m.seq.Store(opts.FirstSeq)
	return m, nil
}

// LastSeq is the sequence of the most recently created pair.
func (m *Manager) LastSeq() uint64 { return m.seq.Load() }

// IndexCapacity is the capacity used for index segments.
func (m *Manager) IndexCapacity() int64 {
	c := m.opts.DataCapacity / IndexCapacityDivisor
	if c < core.IndexEntrySize {
		c = core.IndexEntrySize
	}
	return c
}

// EnsureWritable rolls to a new pair when there is none yet or when either
// current segment is full. It rolls at most once per call.
func (m *Manager) EnsureWritable() (rolled bool, err error) {
	if m.data != nil && m.index != nil && !m.data.IsFull() && !m.index.IsFull() {
		return false, nil
	}
	if err := m.roll(); err != nil {
		return false, err
	}
	return true, nil
}

// Write encodes rec and appends its frame and index entry to the current
// pair. A record is never split: if the frame or the entry does not fit, the
// pair is rolled first. It returns the number of data bytes written.
func (m *Manager) Write(rec *core.CallRecord) (int, error) {
	frame, err := m.opts.Codec.Encode(rec)
	if err != nil {
		if !core.IsEncodeError(err) {
			err = &core.EncodeError{RecordID: rec.ID, Err: err}
		}
		return 0, err
	}
	return len(frame), m.WriteFrame(frame)
}

// WriteFrame appends an already encoded frame.
func (m *Manager) WriteFrame(frame []byte) error {
	if m.data == nil || m.index == nil {
		if err := m.roll(); err != nil {
			return err
		}
	}
	if !m.fits(len(frame)) {
		if m.data.WritePosition() == 0 && m.index.WritePosition() == 0 {
			return fmt.Errorf("frame of %d bytes exceeds segment capacity %d: %w", len(frame), m.data.Capacity(), core.ErrSegmentFull)
		}
		if err := m.roll(); err != nil {
			return err
		}
		if !m.fits(len(frame)) {
			return fmt.Errorf("frame of %d bytes exceeds segment capacity %d: %w", len(frame), m.data.Capacity(), core.ErrSegmentFull)
		}
	}

	off, err := m.data.Append(frame)
	if err != nil {
		return err
	}
	var entry [core.IndexEntrySize]byte
	core.IndexEntry{Offset: uint64(off), Length: uint32(len(frame))}.MarshalTo(entry[:])
	if _, err := m.index.Append(entry[:]); err != nil {
		return err
	}
	m.dataSize.Store(m.data.WritePosition())
	m.indexSize.Store(m.index.WritePosition())
	return nil
}

func (m *Manager) fits(frameLen int) bool {
	return m.data.Fits(frameLen) && m.index.Fits(core.IndexEntrySize)
}

func (m *Manager) roll() error {
	if err := m.closeCurrent(); err != nil {
		m.logger.Error("Failed to close segment pair during rollover", "segment", m.name.String(), "error", err)
	}

	for _, dir := range []string{DataDirName, IndexDirName} {
		p := filepath.Join(m.opts.BaseDir, dir)
		if err := os.MkdirAll(p, 0755); err != nil {
			return &core.IOError{Op: "create segment dir", Path: p, Err: err}
		}
	}

	name := Name{Host: m.opts.Host, Created: m.opts.Now(), Seq: m.seq.Add(1)}
	dataPath, indexPath := name.DataPath(m.opts.BaseDir), name.IndexPath(m.opts.BaseDir)
	for _, p := range []string{dataPath, indexPath} {
		if fi, err := os.Stat(p); err == nil && fi.Size() > 0 {
			// Sequences restart with the process; a restart within the same
			// second can reuse a name.
			m.logger.Warn("Segment file already exists and will be overwritten from offset zero", "path", p)
		}
	}

	data, err := OpenFile(dataPath, m.opts.DataCapacity, m.opts.Preallocate)
	if err != nil {
		return err
	}
	index, err := OpenFile(indexPath, m.IndexCapacity(), m.opts.Preallocate)
	if err != nil {
		data.Close()
		return err
	}
	m.name, m.data, m.index = name, data, index
	m.current.Store(&name)
	m.dataSize.Store(0)
	m.indexSize.Store(0)

	m.logger.Info("Created segment pair", "segment", name.String(), "data_capacity", data.Capacity(), "index_capacity", index.Capacity())
	if m.opts.OnCreate != nil {
		m.opts.OnCreate(PairInfo{Name: name, DataPath: dataPath, IndexPath: indexPath})
	}
	return nil
}

func (m *Manager) closeCurrent() error {
	if m.data == nil && m.index == nil {
		return nil
	}
	info := PairInfo{Name: m.name}
	var errs []error
	if m.data != nil {
		info.DataPath, info.DataSize = m.data.Path(), m.data.WritePosition()
		errs = append(errs, m.data.Close())
	}
	if m.index != nil {
		info.IndexPath, info.IndexSize = m.index.Path(), m.index.WritePosition()
		errs = append(errs, m.index.Close())
	}
	m.data, m.index = nil, nil
	m.current.Store(nil)
	m.dataSize.Store(0)
	m.indexSize.Store(0)
	if m.opts.OnClose != nil {
		m.opts.OnClose(info)
	}
	return errors.Join(errs...)
}

// Sync forces the current pair to disk.
func (m *Manager) Sync() error {
	var errs []error
	if m.data != nil {
		errs = append(errs, m.data.Sync())
	}
	if m.index != nil {
		errs = append(errs, m.index.Sync())
	}
	return errors.Join(errs...)
}

// Close closes the current pair. It is safe to call more than once.
func (m *Manager) Close() error {
	return m.closeCurrent()
}

// Current returns the name of the open pair, if any. Safe to call from any goroutine.
func (m *Manager) Current() (Name, bool) {
	n := m.current.Load()
	if n == nil {
		return Name{}, false
	}
	return *n, true
}

// Sizes returns the write positions of the current pair. Safe to call from
// any goroutine.
func (m *Manager) Sizes() (dataSize, indexSize int64) {
	return m.dataSize.Load(), m.indexSize.Load()
}
