// Package patch safely read-modify-writes structured configuration files.
//
// A patch reads the current document (an absent file is an empty document),
// applies a pure Transform to a private copy, serializes the result
// deterministically, and replaces the file by writing a temporary file in the
// same directory and renaming it over the original. Readers observe either the
// old or the new content, never a partial write; any failure leaves the
// original byte-identical.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/openfroyo/hostprep/pkg/engine"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// Result describes the outcome of a patch or preview.
type Result struct {
	// Path is the patched file.
	Path string

	// Before is the original content (nil when the file was absent).
	Before []byte

	// After is the rendered desired content.
	After []byte

	// Changed is true when After differs from Before.
	Changed bool
}

// Patcher applies transforms to files on a filesystem.
type Patcher struct {
	fs FS

	// BackupSuffix, when set, keeps a copy of the previous content next to the
	// file (path + suffix) before it is replaced.
	BackupSuffix string

	// Codec overrides extension-based codec selection.
	Codec Codec
}

// New creates a patcher over the given filesystem. A nil fs uses the local filesystem.
func New(fsys FS) *Patcher {
	if fsys == nil {
		fsys = OSFS{}
	}
	return &Patcher{fs: fsys}
}

// Preview renders the transformed document without writing anything.
func (p *Patcher) Preview(path string, transform Transform) (*Result, error) {
	codec := p.codec(path)

	before, err := p.fs.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewConfigIOError("read", path, err)
	}
	exists := err == nil

	doc, err := codec.Decode(before)
	if err != nil {
		return nil, engine.NewConfigIOError("parse", path, err)
	}

	desired, err := applyTransform(transform, doc)
	if err != nil {
		return nil, engine.NewConfigIOError("transform", path, err)
	}

	after, err := codec.Encode(desired)
	if err != nil {
		return nil, engine.NewConfigIOError("encode", path, err)
	}

	res := &Result{Path: path, After: after}
	if exists {
		res.Before = before
	}
	res.Changed = !exists || !bytes.Equal(before, after)
	return res, nil
}

// Patch applies transform to the file at path. It returns whether the file
// content changed; an unchanged rendering performs no write.
func (p *Patcher) Patch(path string, transform Transform) (*Result, error) {
	res, err := p.Preview(path, transform)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	if res.Before != nil && p.BackupSuffix != "" {
		if err := p.writeAtomic(path+p.BackupSuffix, res.Before); err != nil {
			return nil, engine.NewConfigIOError("backup", path, err)
		}
	}

	if err := p.writeAtomic(path, res.After); err != nil {
		return nil, engine.NewConfigIOError("write", path, err)
	}
	return res, nil
}

// Satisfied reports whether applying transform would leave the file unchanged.
func (p *Patcher) Satisfied(path string, transform Transform) (bool, error) {
	res, err := p.Preview(path, transform)
	if err != nil {
		return false, err
	}
	return !res.Changed, nil
}

// writeAtomic writes data to a temp file beside path and renames it into place.
// The temp file is removed on any failure.
func (p *Patcher) writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := p.fs.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	mode := fs.FileMode(defaultFileMode)
	if info, statErr := p.fs.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := p.fs.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false

	defer func() {
		if err != nil {
			if !closed {
				_ = tmp.Close()
			}
			_ = p.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = p.fs.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = p.fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (p *Patcher) codec(path string) Codec {
	if p.Codec != nil {
		return p.Codec
	}
	return CodecFor(path)
}

// applyTransform runs transform on a deep copy and converts panics into errors.
func applyTransform(transform Transform, doc Document) (out Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()

	copied, _ := DeepCopy(doc).(Document)
	if copied == nil {
		copied = Document{}
	}
	out, err = transform(copied)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Document{}
	}
	return out, nil
}
