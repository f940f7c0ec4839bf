package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/cjeanneret/photobox/internal/debug"
	"github.com/fsnotify/fsnotify"
)

// File is a device backed by a snapshot file that an external grabber
// (ffmpeg, a v4l2 helper, a DSLR tether tool) keeps overwriting. The most
// recent decodable frame is cached; half-written files are skipped.
type File struct {
	Path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	frame   image.Image
	frames  uint64 // frames decoded since Open
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFile returns a device reading frames from path.
func NewFile(path string) *File {
	return &File{Path: filepath.Clean(path)}
}

func (f *File) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return nil
	}

	dir := filepath.Dir(f.Path)
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return fmt.Errorf("file camera: no frame directory %s: %w", dir, ErrDeviceUnavailable)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file camera: create watcher: %v: %w", err, ErrDeviceUnavailable)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("file camera: watch %s: %v: %w", dir, err, ErrDeviceUnavailable)
	}

	f.watcher = w
	f.done = make(chan struct{})
	if img, err := decodeFile(f.Path); err == nil {
		f.frame = img
		f.frames++
	}

	f.wg.Add(1)
	go f.watch(w, f.done)
	debug.Verbose("File camera watching %s", f.Path)
	return nil
}

func (f *File) watch(w *fsnotify.Watcher, done <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.Path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			img, err := decodeFile(f.Path)
			if err != nil {
				// Grabber is still writing; the next event brings the full frame.
				debug.Trace("File camera: skip undecodable frame: %v", err)
				continue
			}
			f.mu.Lock()
			f.frame = img
			f.frames++
			f.mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			debug.Error(fmt.Errorf("file camera watcher: %w", err))
		}
	}
}

func (f *File) Frame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher == nil {
		return nil, ErrFrameNotReady
	}
	if f.frame == nil {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return f.frame, nil
}

// Frames returns how many frames were decoded since Open.
func (f *File) Frames() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *File) Close() error {
	f.mu.Lock()
	w, done := f.watcher, f.done
	f.watcher, f.done, f.frame, f.frames = nil, nil, nil, 0
	f.mu.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	f.wg.Wait()
	debug.Verbose("File camera: stopped watching %s", f.Path)
	return err
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	return img, err
}
