package models

import "time"

// Paper is the notes record written for every ingested paper.
type Paper struct {
	PaperID     string    `firestore:"paperId,omitempty"`
	Title       string    `firestore:"title,omitempty"`
	Authors     []string  `firestore:"authors,omitempty"`
	Date        string    `firestore:"date,omitempty"`
	Source      string    `firestore:"source,omitempty"`
	StoragePath string    `firestore:"storagePath,omitempty"`
	Filename    string    `firestore:"filename,omitempty"`
	RecordedAt  time.Time `firestore:"recordedAt,omitempty"`
}
