package models

import (
	"strconv"
	"time"
)

// Reading status values. Stored as plain strings in the books collection.
const (
	StatusWantToRead = "want-to-read"
	StatusReading    = "reading"
	StatusFinished   = "finished"
)

var ValidStatuses = []string{StatusWantToRead, StatusReading, StatusFinished}

// StatusValid reports whether s is one of the known reading statuses.
func StatusValid(s string) bool {
	for _, v := range ValidStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Book is the typed record for one library entry. PagesRead and TotalPages
// are stored as text in the collection (the schema predates numeric
// attributes there); use the PagesReadInt/TotalPagesInt helpers for math.
// CoverImageURL and PDFURL are derived at read time from the file references
// and are never persisted.
type Book struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	PagesRead    string     `json:"pagesRead"`
	TotalPages   string     `json:"totalPages"`
	Rating       int        `json:"rating"`
	PDFFileID    string     `json:"pdfFileId,omitempty"`
	CoverImageID string     `json:"coverImageId,omitempty"`
	LastReadPage int        `json:"lastReadPage"`
	IsPublic     bool       `json:"isPublic"`
	LastReadAt   *time.Time `json:"lastReadAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt,omitempty"`

	CoverImageURL string `json:"coverImageUrl,omitempty"`
	PDFURL        string `json:"pdfUrl,omitempty"`
}

func (b *Book) PagesReadInt() int  { return atoiOrZero(b.PagesRead) }
func (b *Book) TotalPagesInt() int { return atoiOrZero(b.TotalPages) }

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// BookFields carries the caller-supplied attributes for a create. Anything
// left at its zero value is defaulted by the gateway (status want-to-read,
// pagesRead/totalPages "0", isPublic false).
type BookFields struct {
	Title       string
	Author      string
	Description string
	Status      string
	PagesRead   string
	TotalPages  string
	Rating      int
	IsPublic    bool
}

// BookPatch is a partial update. Pointer fields distinguish "not provided"
// from "set to the zero value"; only non-nil fields are sent.
type BookPatch struct {
	Title        *string
	Author       *string
	Description  *string
	Status       *string
	PagesRead    *string
	TotalPages   *string
	Rating       *int
	CoverImageID *string
	LastReadPage *int
	IsPublic     *bool
	LastReadAt   *time.Time
}
