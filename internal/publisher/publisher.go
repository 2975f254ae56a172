// Package publisher implements the publish_site operation of spec §4.4:
// download every markdown blob, validate and organize them into a content
// tree, build the static site in a subprocess or sandboxed container,
// validate the output, snapshot the current public site, then deploy with
// an automatic rollback on any upload failure.
package publisher

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"contentpipe/internal/errs"
	"contentpipe/internal/lease"
)

const (
	maxFiles       = 10000
	maxFileBytes   = 10 * 1024 * 1024
	markdownPrefix = "markdown/"
	webPrefix      = "web/"
	backupPrefix   = "backup/"
	publisherTopic = "site-publisher" // the single lease key enforcing scale-cap=1
)

// allowedBlobName rejects path traversal, absolute paths, and anything
// outside a plain filename — spec §4.4 step 2's strict allow-list.
var allowedBlobName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*\.md$`)

// BlobStore is the subset of *blobstore.Store the publisher needs. Tests
// substitute a wrapper over it to inject an upload failure and exercise
// the rollback path without depending on the filesystem backend.
type BlobStore interface {
	Get(key string) ([]byte, string, error)
	Put(key string, body []byte) (string, error)
	Delete(key string) error
	List(prefix string) ([]string, error)
	Size(key string) (int64, error)
}

// Publisher runs the full publish_site algorithm.
type Publisher struct {
	Blobs         BlobStore
	Leases        *lease.Manager
	Builder       Builder
	WorkDir       string // scratch root for content tree + build output
	BuildTimeout  time.Duration
	ExpectedFiles []string // top-level output files that must exist, e.g. "index.html"
}

// Result reports what a run did.
type Result struct {
	Success       bool
	FilesDeployed int
	BackupPath    string
}

// Run executes one publish_site invocation. Concurrency is capped to one
// instance at a time by acquiring a fixed-key lease before doing any work
// (spec §4.4: "at most one publisher instance runs at a time"); a second
// concurrent caller returns immediately with a retryable error rather than
// racing the first.
func (p *Publisher) Run() (Result, error) {
	const op = "publisher.Run"
	held, err := p.Leases.Acquire(publisherTopic, "publisher")
	if err != nil {
		return Result{}, err
	}
	defer p.Leases.Release(held)

	contentDir := filepath.Join(p.WorkDir, "content")
	outputDir := filepath.Join(p.WorkDir, "output")
	if err := os.RemoveAll(p.WorkDir); err != nil {
		return Result{}, errs.New(op, errs.Transient, err)
	}
	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		return Result{}, errs.New(op, errs.Transient, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, errs.New(op, errs.Transient, err)
	}

	if _, err := p.downloadAndOrganize(contentDir); err != nil {
		return Result{}, err
	}

	timeout := p.BuildTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	buildResult, err := p.Builder.Build(ctx, contentDir, outputDir)
	if err != nil {
		return Result{}, errs.New(op, errs.Security, fmt.Errorf("build failed (exit %d): %w: %s", buildResult.ExitCode, err, buildResult.Stderr))
	}

	if err := p.validateOutput(outputDir); err != nil {
		return Result{}, err
	}

	backupPath, err := p.snapshot()
	if err != nil {
		return Result{}, err
	}

	deployed, deployErr := p.deploy(outputDir)
	if deployErr != nil {
		if rollbackErr := p.rollback(backupPath); rollbackErr != nil {
			return Result{}, errs.New(op, errs.Fatal, fmt.Errorf("deploy failed (%w) and rollback failed (%v)", deployErr, rollbackErr))
		}
		return Result{}, errs.New(op, errs.Transient, fmt.Errorf("deploy failed, rolled back: %w", deployErr))
	}

	return Result{Success: true, FilesDeployed: deployed, BackupPath: backupPath}, nil
}

// downloadAndOrganize lists every markdown blob, enforces the file-count
// and per-file size caps and the allow-list naming regex (spec §4.4 steps
// 1–3), and copies each into contentDir under its validated basename —
// the "no symlinks, no path traversal" tree the generator reads from.
func (p *Publisher) downloadAndOrganize(contentDir string) (int, error) {
	const op = "publisher.downloadAndOrganize"
	keys, err := p.Blobs.List(markdownPrefix)
	if err != nil {
		return 0, errs.New(op, errs.Transient, err)
	}
	if len(keys) > maxFiles {
		return 0, errs.New(op, errs.Security, fmt.Errorf("markdown set has %d files, exceeds cap of %d", len(keys), maxFiles))
	}

	for _, key := range keys {
		name := strings.TrimPrefix(key, markdownPrefix)
		if !allowedBlobName.MatchString(name) {
			return 0, errs.New(op, errs.Security, fmt.Errorf("blob name %q fails the allow-list", name))
		}
		size, err := p.Blobs.Size(key)
		if err != nil {
			return 0, errs.New(op, errs.Transient, err)
		}
		if size > maxFileBytes {
			return 0, errs.New(op, errs.Security, fmt.Errorf("blob %q is %d bytes, exceeds %d byte cap", name, size, maxFileBytes))
		}
		body, _, err := p.Blobs.Get(key)
		if err != nil {
			return 0, errs.New(op, errs.Transient, err)
		}
		dest := filepath.Join(contentDir, name)
		if err := os.WriteFile(dest, body, 0o644); err != nil {
			return 0, errs.New(op, errs.Transient, err)
		}
	}
	return len(keys), nil
}

// validateOutput checks the build's output tree for the expected
// top-level files, rejects symlinks, and enforces a total-size bound
// (spec §4.4 step 5).
func (p *Publisher) validateOutput(outputDir string) error {
	const op = "publisher.validateOutput"
	for _, expected := range p.ExpectedFiles {
		path := filepath.Join(outputDir, expected)
		info, err := os.Lstat(path)
		if err != nil {
			return errs.New(op, errs.Security, fmt.Errorf("expected output file %q missing: %w", expected, err))
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return errs.New(op, errs.Security, fmt.Errorf("expected output file %q is a symlink", expected))
		}
	}

	var total int64
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return fmt.Errorf("symlink not allowed in build output: %s", path)
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		total += info.Size()
		if total > maxFiles*maxFileBytes {
			return fmt.Errorf("build output exceeds total size bound")
		}
		return nil
	})
	if err != nil {
		return errs.New(op, errs.Security, err)
	}
	return nil
}

// snapshot copies the current web/ prefix to backup/{iso8601}/ before any
// new file is written, so a failed deploy can restore it exactly (spec
// §4.4 step 6).
func (p *Publisher) snapshot() (string, error) {
	const op = "publisher.snapshot"
	timestamp := time.Now().UTC().Format(time.RFC3339)
	backupDir := backupPrefix + timestamp + "/"

	keys, err := p.Blobs.List(webPrefix)
	if err != nil {
		return "", errs.New(op, errs.Transient, err)
	}
	for _, key := range keys {
		body, _, err := p.Blobs.Get(key)
		if err != nil {
			return "", errs.New(op, errs.Transient, err)
		}
		name := strings.TrimPrefix(key, webPrefix)
		if _, err := p.Blobs.Put(backupDir+name, body); err != nil {
			return "", errs.New(op, errs.Transient, err)
		}
	}
	return backupDir, nil
}

// deploy uploads every file in outputDir to web/, inferring its MIME type
// from the extension via the standard library (spec §4.4 step 7).
func (p *Publisher) deploy(outputDir string) (int, error) {
	const op = "publisher.deploy"
	var files []string
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(outputDir, path)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return 0, errs.New(op, errs.Transient, err)
	}
	sort.Strings(files)

	deployed := 0
	for _, rel := range files {
		body, readErr := os.ReadFile(filepath.Join(outputDir, rel))
		if readErr != nil {
			return deployed, errs.New(op, errs.Transient, readErr)
		}
		_ = mimeTypeFor(rel) // resolved for completeness; the local blobstore has no content-type header to set
		if _, err := p.Blobs.Put(webPrefix+rel, body); err != nil {
			return deployed, errs.New(op, errs.Transient, fmt.Errorf("upload %q: %w", rel, err))
		}
		deployed++
	}
	return deployed, nil
}

func mimeTypeFor(name string) string {
	ext := filepath.Ext(name)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// rollback restores web/ from the blobs under backupDir, deleting anything
// the failed deploy wrote that wasn't part of the prior snapshot (spec
// §4.4: "roll back by restoring from the snapshot"). Files whose current
// content already equals their snapshot copy are left untouched, so a
// deploy that failed before changing them cannot lose them in rollback.
func (p *Publisher) rollback(backupDir string) error {
	const op = "publisher.rollback"
	currentKeys, err := p.Blobs.List(webPrefix)
	if err != nil {
		return errs.New(op, errs.Transient, err)
	}
	for _, key := range currentKeys {
		if prior, _, priorErr := p.Blobs.Get(backupDir + strings.TrimPrefix(key, webPrefix)); priorErr == nil {
			if current, _, curErr := p.Blobs.Get(key); curErr == nil && bytes.Equal(current, prior) {
				continue
			}
		}
		if err := p.Blobs.Delete(key); err != nil {
			return errs.New(op, errs.Transient, err)
		}
	}
	backupKeys, err := p.Blobs.List(backupDir)
	if err != nil {
		return errs.New(op, errs.Transient, err)
	}
	for _, key := range backupKeys {
		body, _, err := p.Blobs.Get(key)
		if err != nil {
			return errs.New(op, errs.Transient, err)
		}
		name := strings.TrimPrefix(key, backupDir)
		if current, _, curErr := p.Blobs.Get(webPrefix + name); curErr == nil && bytes.Equal(current, body) {
			continue
		}
		if _, err := p.Blobs.Put(webPrefix+name, body); err != nil {
			return errs.New(op, errs.Transient, err)
		}
	}
	return nil
}
