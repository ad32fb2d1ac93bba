// Package models defines server-side data models persisted in the database
// and the views exposed over the API.
package models

import (
	"time"

	"github.com/dmitrijs2005/crawlupload/internal/common"
)

// CrawlFile describes one object written to storage. It is built once the
// bytes are stored and never mutated afterwards.
type CrawlFile struct {
	// Filename is the full object key, including the org/upload prefix.
	Filename string `json:"filename"`
	// Hash is the hex SHA-256 of exactly the bytes stored under Filename.
	Hash string `json:"hash"`
	// Size is the exact number of bytes stored.
	Size uint64 `json:"size"`
	// Storage names the storage backend holding the object.
	Storage string `json:"storage"`
}

// Crawl is a crawl-like record. Uploads are crawls of kind "upload".
type Crawl struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Name      string      `json:"name"`
	Notes     string      `json:"notes"`
	Tags      []string    `json:"tags"`
	UserID    string      `json:"userid"`
	OrgID     string      `json:"oid"`
	Files     []CrawlFile `json:"-"`
	State     string      `json:"state"`
	FileCount int         `json:"fileCount"`
	FileSize  uint64      `json:"fileSize"`
	Started   time.Time   `json:"started"`
	Finished  time.Time   `json:"finished"`
}

// NewUpload assembles a complete upload from already stored files. FileCount
// and FileSize are derived from files so they always agree with it.
func NewUpload(id, name, notes string, org Organization, user User, files []CrawlFile, now time.Time) *Crawl {
	var size uint64
	for _, f := range files {
		size += f.Size
	}

	return &Crawl{
		ID:        id,
		Type:      common.KindUpload,
		Name:      name,
		Notes:     notes,
		Tags:      []string{},
		UserID:    user.ID,
		OrgID:     org.ID,
		Files:     files,
		State:     common.StateComplete,
		FileCount: len(files),
		FileSize:  size,
		Started:   now,
		Finished:  now,
	}
}

// StorageNames returns the object keys of all files, in file order.
func (c *Crawl) StorageNames() []string {
	names := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		names = append(names, f.Filename)
	}
	return names
}

// CrawlOut is the list view of a crawl. It never carries file records.
type CrawlOut struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes"`
	Tags      []string  `json:"tags"`
	UserID    string    `json:"userid"`
	OrgID     string    `json:"oid"`
	State     string    `json:"state"`
	FileCount int       `json:"fileCount"`
	FileSize  uint64    `json:"fileSize"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// CrawlFileOut is a file resolved to a fetchable path.
type CrawlFileOut struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size uint64 `json:"size"`
}

// CrawlOutWithResources is the detail view: the list view plus resolved files.
type CrawlOutWithResources struct {
	CrawlOut
	Resources []CrawlFileOut `json:"resources"`
}

// Out converts the record into its list view.
func (c *Crawl) Out() CrawlOut {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return CrawlOut{
		ID:        c.ID,
		Type:      c.Type,
		Name:      c.Name,
		Notes:     c.Notes,
		Tags:      tags,
		UserID:    c.UserID,
		OrgID:     c.OrgID,
		State:     c.State,
		FileCount: c.FileCount,
		FileSize:  c.FileSize,
		Started:   c.Started,
		Finished:  c.Finished,
	}
}
