package secrets

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/wippyai/contract-runtime/errors"
	"github.com/wippyai/contract-runtime/identity"
)

// LevelDB is a Store backed by a LevelDB database.
type LevelDB struct {
	db *leveldb.DB
	// mu serialises delete so its existence check and removal are atomic.
	mu sync.Mutex
}

// OpenLevelDB opens or creates a database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
		NoSync:         false,
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindStore, err, "open secret store "+path)
	}
	Logger().Debug("secret store opened", zap.String("path", path))
	return &LevelDB{db: db}, nil
}

// NewLevelDBMemory opens a LevelDB store over in-memory storage.
func NewLevelDBMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindStore, err, "open in-memory secret store")
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(_ context.Context, ns identity.Key, name []byte) ([]byte, bool, error) {
	v, err := l.db.Get(storageKey(ns, name), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *LevelDB) Put(_ context.Context, ns identity.Key, name, value []byte) error {
	return l.db.Put(storageKey(ns, name), value, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Delete(_ context.Context, ns identity.Key, name []byte) (bool, error) {
	k := storageKey(ns, name)
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, err := l.db.Has(k, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, l.db.Delete(k, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Names(_ context.Context, ns identity.Key) ([][]byte, error) {
	it := l.db.NewIterator(util.BytesPrefix(ns[:]), nil)
	defer it.Release()
	var names [][]byte
	for it.Next() {
		names = append(names, append([]byte(nil), it.Key()[identity.Size:]...))
	}
	return names, it.Error()
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
