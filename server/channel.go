package server

import (
	"encoding/json"
	"sync"
)

// Channel is the host side of the viewer: it owns the current selection
// and receives what the scheduler reports about the document.
type Channel struct {
	mu         sync.RWMutex
	page       int
	zoomIndex  int
	pageCount  int
	properties string
}

// NewChannel starts the selection at page 1 and the given zoom index
func NewChannel(zoomIndex int) *Channel {
	return &Channel{page: 1, zoomIndex: zoomIndex}
}

// Page implements engine.Host
func (c *Channel) Page() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.page
}

// ZoomLevelIndex implements engine.Host
func (c *Channel) ZoomLevelIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.zoomIndex
}

// SetPageCount implements engine.Host
func (c *Channel) SetPageCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageCount = n
}

// SetDocumentProperties implements engine.Host
func (c *Channel) SetDocumentProperties(properties string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.properties = properties
}

// Select changes the current page and zoom index
func (c *Channel) Select(page, zoomIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.page = page
	c.zoomIndex = zoomIndex
}

// PageCount returns the last page count reported by the scheduler
func (c *Channel) PageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pageCount
}

// Properties returns the document properties as raw JSON, or nil before
// they are known
func (c *Channel) Properties() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.properties == "" {
		return nil
	}
	return json.RawMessage(c.properties)
}
