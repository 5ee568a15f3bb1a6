// Package assets indexes the files under an asset directory, loads them
// through per-type loaders and, when watching, reports files that change on
// disk so shaders can be reloaded while the engine runs.
package assets

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-rhi/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeImage
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeImage:
		return "image"
	}
	return "none"
}

type AssetInfo struct {
	Path       string
	Type       AssetType
	LastLoaded time.Time
}

// AssetEvent reports that an indexed file was written, created or removed.
type AssetEvent struct {
	// Slash-separated path relative to the asset root, as passed to Load*.
	Name    string
	Type    AssetType
	Removed bool
}

const subscriberBuffer = 16

var ErrClosed = errors.New("asset manager already closed")

type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done        chan struct{}
	wg          sync.WaitGroup
	fsnotify    *fsnotify.Watcher
	isClosed    bool
	subscribers []chan AssetEvent
}

// NewAssetManager indexes root. With watch set, changes below root are
// picked up until Shutdown.
func NewAssetManager(root string, watch bool) (*AssetManager, error) {
	am := &AssetManager{
		root:    root,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
		done:    make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeImage, &loaders.ImageLoader{})

	if watch {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		am.fsnotify = fsWatch
	}

	if err := am.watchRecursive(root); err != nil {
		if am.fsnotify != nil {
			am.fsnotify.Close()
		}
		return nil, err
	}

	if am.fsnotify != nil {
		am.wg.Add(1)
		go am.start()
	}
	core.LogDebug("asset manager indexed %d files under %s (watch=%t)", len(am.assets), root, watch)
	return am, nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

// Subscribe returns a channel of change events. Events are dropped for a
// subscriber that falls more than a few events behind.
func (am *AssetManager) Subscribe() <-chan AssetEvent {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	ch := make(chan AssetEvent, subscriberBuffer)
	if am.isClosed {
		close(ch)
		return ch
	}
	am.subscribers = append(am.subscribers, ch)
	return ch
}

// Names lists the indexed assets of the given type.
func (am *AssetManager) Names(assetType AssetType) []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var names []string
	for name, info := range am.assets {
		if info.Type == assetType {
			names = append(names, name)
		}
	}
	return names
}

func (am *AssetManager) LoadShader(name string) ([]byte, error) {
	res, err := am.loadAsset(name, AssetTypeShader)
	if err != nil {
		return nil, err
	}
	return res.Data.([]byte), nil
}

func (am *AssetManager) LoadImage(name string) (image.Image, error) {
	res, err := am.loadAsset(name, AssetTypeImage)
	if err != nil {
		return nil, err
	}
	return res.Data.(image.Image), nil
}

// loadAsset reads name from disk through the loader registered for its type.
func (am *AssetManager) loadAsset(name string, assetType AssetType) (*loaders.Resource, error) {
	am.mutex.Lock()
	asset, exists := am.assets[name]
	if exists {
		// Update the loaded time
		asset.LastLoaded = time.Now()
		am.assets[name] = asset
	}
	am.mutex.Unlock()

	if !exists {
		return nil, fmt.Errorf("asset not found: %s", name)
	}
	if asset.Type != assetType {
		return nil, fmt.Errorf("asset %s is a %s, not a %s", name, asset.Type, assetType)
	}
	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	res, err := loader.Load(asset.Path)
	if err != nil {
		return nil, err
	}
	res.Name = name
	return res, nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return ErrClosed
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()

	am.mutex.Lock()
	for _, ch := range am.subscribers {
		close(ch)
	}
	am.subscribers = nil
	am.mutex.Unlock()
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleWatchEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleWatchEvent(e fsnotify.Event) {
	if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
		}
		return
	}

	switch {
	case e.Has(fsnotify.Create) || e.Has(fsnotify.Write):
		if name, assetType := am.handleFileEvent(e.Name); assetType != AssetTypeNone {
			am.publish(AssetEvent{Name: name, Type: assetType})
		}
	case e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename):
		// Can't stat a deleted path, so it may have been a directory too.
		if name, assetType := am.removeAsset(e.Name); assetType != AssetTypeNone {
			am.publish(AssetEvent{Name: name, Type: assetType, Removed: true})
		}
		_ = am.fsnotify.Remove(e.Name)
	}
}

func (am *AssetManager) publish(ev AssetEvent) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	core.LogDebug("asset %s changed (removed=%t)", ev.Name, ev.Removed)
	for _, ch := range am.subscribers {
		select {
		case ch <- ev:
		default:
			core.LogWarn("asset subscriber is full, dropping event for %s", ev.Name)
		}
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// each directory to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if am.fsnotify != nil {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

func (am *AssetManager) nameOf(path string) string {
	rel, err := filepath.Rel(am.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (string, AssetType) {
	assetType := determineAssetType(path)
	if assetType == AssetTypeNone {
		return "", AssetTypeNone
	}
	name := am.nameOf(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[name] = AssetInfo{
		Path: path,
		Type: assetType,
	}
	return name, assetType
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (string, AssetType) {
	name := am.nameOf(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info, ok := am.assets[name]
	if !ok {
		return "", AssetTypeNone
	}
	delete(am.assets, name)
	return name, info.Type
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".spv":
		return AssetTypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return AssetTypeImage
	default:
		return AssetTypeNone
	}
}
