package models

import "time"

// StoredObject is a persisted payload with its location and metadata.
// (Layer, Category, PartitionDate, Filename) identifies it, writes replace.
type StoredObject struct {
	Layer         Layer             `json:"layer"`
	Category      string            `json:"category"`
	PartitionDate time.Time         `json:"partition_date"`
	Filename      string            `json:"filename"`
	Payload       []byte            `json:"-"`
	ContentType   string            `json:"content_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type StoredObjectRef struct {
	Layer         Layer     `json:"layer"`
	Bucket        string    `json:"bucket"`
	Path          string    `json:"path"`
	Category      string    `json:"category"`
	PartitionDate time.Time `json:"partition_date"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"last_modified"`
}
