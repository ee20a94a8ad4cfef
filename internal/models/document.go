package models

import "time"

// Document is a catalogued upload. ExternalURI is nil until the content
// store accepted the file.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mimeType"`
	StoragePath string    `json:"-"`
	ExternalURI *string   `json:"externalUri"`
	Size        int64     `json:"size"`
	UploadDate  time.Time `json:"uploadDate"`
}

// Synced reports whether the document reached the content store.
func (d *Document) Synced() bool {
	return d != nil && d.ExternalURI != nil && *d.ExternalURI != ""
}
