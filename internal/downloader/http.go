package downloader

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gosh-fetch/internal/engine"
)

const partSuffix = ".part"

// runHTTP fetches the transfer from its URL, falling back to each mirror in
// turn when a source fails at the network level.
func (m *Manager) runHTTP(ctx context.Context, tr *transfer) error {
	sources := append([]string{tr.url}, tr.opts.Mirrors...)
	logger := m.log.WithField("gid", tr.id)

	var lastErr error
	for i, src := range sources {
		err := m.fetch(ctx, tr, src)
		if err == nil || ctx.Err() != nil {
			return err
		}
		var ee *engine.Error
		if errors.As(err, &ee) && ee.Kind != engine.ErrNetwork {
			return err
		}
		lastErr = err
		if i < len(sources)-1 {
			logger.Warnf("source %s failed, trying mirror: %v", src, err)
		}
	}
	return lastErr
}

func (m *Manager) fetch(ctx context.Context, tr *transfer, src string) error {
	m.mu.Lock()
	name := tr.name
	ua := m.cfg.UserAgent
	m.mu.Unlock()

	var offset int64
	if name != "" {
		if fi, err := m.fs.Stat(m.partPath(tr.saveDir, name)); err == nil {
			offset = fi.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return engine.InvalidInputError("url", err.Error())
	}
	applyRequestOptions(req, tr.opts, ua)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return engine.NetworkError(err.Error(), true)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// the partial file already holds everything
		m.mu.Lock()
		tr.total = offset
		m.mu.Unlock()
		tr.completed.Store(offset)
		return m.finalize(tr, name)
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		offset = 0
	default:
		return engine.NetworkError(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, src), resp.StatusCode >= 500)
	}

	if name == "" {
		name = filenameFrom(resp)
	}
	total := int64(-1)
	if resp.StatusCode == http.StatusPartialContent {
		total = totalFromContentRange(resp.Header.Get("Content-Range"))
	} else if resp.ContentLength >= 0 {
		total = resp.ContentLength
	}

	m.mu.Lock()
	tr.name = name
	tr.total = total
	if tr.state.Kind == engine.StateConnecting {
		tr.state = engine.State{Kind: engine.StateDownloading}
	}
	m.mu.Unlock()
	tr.completed.Store(offset)

	if err := m.fs.MkdirAll(tr.saveDir, 0o755); err != nil {
		return engine.StorageError(fmt.Sprintf("create save dir: %v", err))
	}
	part := m.partPath(tr.saveDir, name)
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	out, err := m.fs.OpenFile(part, flags, 0o644)
	if err != nil {
		return engine.StorageError(fmt.Sprintf("open %s: %v", part, err))
	}

	if err := m.copyBody(ctx, tr, out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return engine.StorageError(fmt.Sprintf("close %s: %v", part, err))
	}
	return m.finalize(tr, name)
}

// copyBody streams body into out, honouring the global and per-transfer
// download limits.
func (m *Manager) copyBody(ctx context.Context, tr *transfer, out io.Writer, body io.Reader) error {
	buf := make([]byte, copyChunk)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := m.downLimit.WaitN(ctx, n); err != nil {
				return err
			}
			if err := tr.limiter.WaitN(ctx, n); err != nil {
				return err
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return engine.StorageError(err.Error())
			}
			tr.completed.Add(int64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return engine.NetworkError(fmt.Sprintf("read body: %v", rerr), true)
		}
	}
}

// finalize verifies the checksum, if any, and moves the partial file into
// place.
func (m *Manager) finalize(tr *transfer, name string) error {
	part := m.partPath(tr.saveDir, name)
	if cs := tr.opts.Checksum; cs != nil {
		got, err := m.digest(part, cs.Algorithm)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, cs.Value) {
			return &engine.Error{
				Kind:    engine.ErrInternal,
				Message: fmt.Sprintf("%s checksum mismatch: expected %s, got %s", cs.Algorithm, cs.Value, got),
			}
		}
	}
	final := filepath.Join(tr.saveDir, name)
	if err := m.fs.Rename(part, final); err != nil {
		return engine.StorageError(fmt.Sprintf("rename %s: %v", part, err))
	}
	return nil
}

func (m *Manager) digest(file string, algo engine.ChecksumAlgorithm) (string, error) {
	var h hash.Hash
	switch algo {
	case engine.ChecksumMD5:
		h = md5.New()
	case engine.ChecksumSHA256:
		h = sha256.New()
	default:
		return "", engine.InvalidInputError("checksum", fmt.Sprintf("unsupported algorithm %q", algo))
	}
	f, err := m.fs.Open(file)
	if err != nil {
		return "", engine.StorageError(fmt.Sprintf("open %s: %v", file, err))
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", engine.StorageError(fmt.Sprintf("read %s: %v", file, err))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manager) partPath(dir, name string) string {
	return filepath.Join(dir, name) + partSuffix
}

func applyRequestOptions(req *http.Request, opts engine.Options, defaultUA string) {
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUA
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	for _, h := range opts.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if len(opts.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(opts.Cookies, "; "))
	}
}

// filenameFrom picks the Content-Disposition filename, else the last path
// segment of the final URL.
func filenameFrom(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := sanitizeName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base := path.Base(resp.Request.URL.Path)
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
		if name := sanitizeName(base); name != "" {
			return name
		}
	}
	return "download"
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "/", "..":
		return ""
	}
	return name
}

// totalFromContentRange parses "bytes a-b/total"; -1 when the total is
// unknown.
func totalFromContentRange(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
