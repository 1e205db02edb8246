package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/nodetracker/pkg/balance"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	filePrefix = "node_balance_"
	fileSuffix = ".csv"
)

// Store keeps each identifier's entries in <Dir>/node_balance_<peer>.csv.
//
// Appends for one identifier are serialized within this process only; other
// processes writing the same directory may still interleave lines.
type Store struct {
	Dir    string
	Logger *zap.Logger

	locks *xsync.Map[string, *sync.Mutex]
	pool  pond.ResultPool[balance.Log]
}

// New creates dir if needed and returns a store that loads logs with up to
// workers concurrent readers.
func New(dir string, workers int, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	if workers < 1 {
		workers = 1
	}

	return &Store{
		Dir:    dir,
		Logger: logger,
		locks:  xsync.NewMap[string, *sync.Mutex](),
		pool:   pond.NewResultPool[balance.Log](workers),
	}, nil
}

// LogPath is the file holding peerID's entries.
func (s *Store) LogPath(peerID string) string {
	return filepath.Join(s.Dir, filePrefix+peerID+fileSuffix)
}

// IsLogFile reports whether a directory entry name looks like a balance log.
func IsLogFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

func (s *Store) Append(ctx context.Context, e balance.Entry) error {
	if !balance.ValidPeerID(e.PeerID) {
		return fmt.Errorf("peer id %q cannot name a log file", e.PeerID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu, _ := s.locks.LoadOrStore(e.PeerID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	path := s.LogPath(e.PeerID)
	if err := ensureHeader(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := io.WriteString(f, e.Line()+"\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	s.Logger.Debug("Appended balance entry",
		zap.String("peer_id", e.PeerID),
		zap.String("balance", e.Balance),
		zap.String("hostname", e.Hostname),
		zap.String("path", path))
	return nil
}

// ensureHeader creates path holding only the header line if it does not exist.
func ensureHeader(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.WriteString(f, balance.Header+"\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header %s: %w", path, err)
	}
	return f.Close()
}

// Scan loads every log in Dir. A missing directory yields no logs. Files that
// cannot be read are logged and skipped.
func (s *Store) Scan(ctx context.Context) ([]balance.Log, error) {
	dirEntries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}

	type logFile struct{ peerID, path string }
	var files []logFile
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !IsLogFile(name) {
			continue
		}
		files = append(files, logFile{
			peerID: strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix),
			path:   filepath.Join(s.Dir, name),
		})
	}
	if len(files) == 0 {
		return nil, nil
	}

	group := s.pool.NewGroupContext(ctx)
	for _, lf := range files {
		group.Submit(func() balance.Log {
			entries, err := readLog(lf.path)
			if err != nil {
				s.Logger.Warn("Skipping unreadable balance log", zap.String("path", lf.path), zap.Error(err))
			}
			return balance.Log{PeerID: lf.peerID, Entries: entries}
		})
	}

	logs, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Dir, err)
	}

	out := logs[:0]
	for _, l := range logs {
		if len(l.Entries) > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

// readLog returns the data rows of a log, ignoring the header, malformed lines
// and rows with the wrong number of columns.
func readLog(path string) ([]balance.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var entries []balance.Entry
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return entries, err
		}
		if e, ok := balance.EntryFromFields(fields); ok {
			entries = append(entries, e)
		}
	}
}

func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.Dir)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.StopAndWait()
	return nil
}
