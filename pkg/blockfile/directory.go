package blockfile

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/datahost/pkg/txn"
)

// Committer is anything a Directory can dispatch two-phase commit to: a
// File[B] of any block type, or another Directory.
type Committer interface {
	Commit(id txn.ID) error
	Finalize(id txn.ID) error
}

// Directory is a transactional, two-level namespace of files and
// subdirectories. Every file and subdirectory is
// created exactly once per name; CreateFile/Subdirectory are idempotent.
type Directory struct {
	mu         sync.Mutex
	db         *bolt.DB
	bucketPath string
	children   map[string]Committer
}

// NewDirectory constructs the root directory for a cluster. bucketPath
// prefixes every file bucket name created under this directory tree,
// keeping bbolt buckets namespaced by directory path without needing true
// nested buckets.
func NewDirectory(db *bolt.DB, bucketPath string) *Directory {
	return &Directory{db: db, bucketPath: bucketPath, children: make(map[string]Committer)}
}

// Subdirectory returns the named subdirectory, creating it if this is the
// first reference.
func (d *Directory) Subdirectory(name string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.children[name]; ok {
		if sub, ok := existing.(*Directory); ok {
			return sub
		}
		panic(fmt.Sprintf("blockfile: %q is already a file, not a directory", name))
	}
	sub := NewDirectory(d.db, d.bucketPath+"/"+name)
	d.children[name] = sub
	return sub
}

// CreateFile returns the named File[B] under dir, creating its backing
// bucket on first reference. A second call with the same name and type
// returns the same handle; a second call with a different block type
// errors, since the block type of a file is fixed for its lifetime.
func CreateFile[B Cloner[B]](dir *Directory, name string) (*File[B], error) {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	if existing, ok := dir.children[name]; ok {
		f, ok := existing.(*File[B])
		if !ok {
			return nil, fmt.Errorf("blockfile: %q already exists with a different block type", name)
		}
		return f, nil
	}

	f, err := NewFile[B](dir.db, dir.bucketPath+"/"+name)
	if err != nil {
		return nil, err
	}
	dir.children[name] = f
	return f, nil
}

// Commit is the composition of Commit on every live child registered under
// this directory at id.
func (d *Directory) Commit(id txn.ID) error {
	for _, c := range d.snapshot() {
		if err := c.Commit(id); err != nil {
			return err
		}
	}
	return nil
}

// Finalize is the composition of Finalize on every live child.
func (d *Directory) Finalize(id txn.ID) error {
	for _, c := range d.snapshot() {
		if err := c.Finalize(id); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) snapshot() []Committer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Committer, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	return out
}
