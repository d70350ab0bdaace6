// Package store holds the application state containers: the book catalog and
// the auth session. State changes only through the methods here; callers get
// snapshots, never live references.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/bookery-app/bookery/models"
	"github.com/bookery-app/bookery/service"
)

// Operation kinds tracked by the catalog's per-operation status machine.
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpUploadCover = "uploadCover"
)

// Operation statuses. The zero value means idle.
const (
	StatusIdle    = ""
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// BookGateway is the slice of the remote resource gateway the catalog needs.
// *service.BookService satisfies it; tests substitute fakes.
type BookGateway interface {
	ListOwn(ctx context.Context) ([]models.Book, error)
	ListPublic(ctx context.Context) ([]models.Book, error)
	Create(ctx context.Context, fields models.BookFields, pdf, cover *service.FileUpload) (*models.Book, error)
	Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error)
	UpdateCoverImage(ctx context.Context, id string, cover *service.FileUpload) (*models.Book, error)
	Delete(ctx context.Context, id string) error
}

// Catalog holds the user's collection and the public subset. All remote
// calls happen outside the lock; state mutates only after a call resolves,
// so there is nothing to roll back.
type Catalog struct {
	gw BookGateway

	mu                 sync.RWMutex
	books              []models.Book
	publicBooks        []models.Book
	loading            bool
	uploadingCover     bool
	coverProgress      int
	lastError          string
	currentReadingBook string
	opStatus           map[string]string
}

func NewCatalog(gw BookGateway) *Catalog {
	return &Catalog{
		gw:       gw,
		opStatus: map[string]string{},
	}
}

/* transitions */

func (c *Catalog) begin(op string) {
	c.mu.Lock()
	c.loading = true
	c.lastError = ""
	if op != "" {
		c.opStatus[op] = StatusPending
	}
	c.mu.Unlock()
}

func (c *Catalog) fail(op string, err error) {
	c.mu.Lock()
	c.loading = false
	c.lastError = err.Error()
	if op != "" {
		c.opStatus[op] = StatusError
	}
	c.mu.Unlock()
}

/* operations */

// FetchOwn replaces the held collection wholesale on success. On failure the
// prior collection stays intact and only the error is recorded.
func (c *Catalog) FetchOwn(ctx context.Context) error {
	c.begin("")
	books, err := c.gw.ListOwn(ctx)
	if err != nil {
		c.fail("", err)
		return err
	}
	c.mu.Lock()
	c.loading = false
	c.books = books
	c.mu.Unlock()
	return nil
}

// FetchPublic replaces the held public subset wholesale on success.
func (c *Catalog) FetchPublic(ctx context.Context) error {
	c.begin("")
	books, err := c.gw.ListPublic(ctx)
	if err != nil {
		c.fail("", err)
		return err
	}
	c.mu.Lock()
	c.loading = false
	c.publicBooks = books
	c.mu.Unlock()
	return nil
}

// Create uploads and appends the returned book. Ids are server-generated and
// unique, so append needs no de-duplication.
func (c *Catalog) Create(ctx context.Context, fields models.BookFields, pdf, cover *service.FileUpload) (*models.Book, error) {
	c.begin(OpCreate)
	book, err := c.gw.Create(ctx, fields, pdf, cover)
	if err != nil {
		c.fail(OpCreate, err)
		return nil, err
	}
	c.mu.Lock()
	c.loading = false
	c.books = append(c.books, *book)
	c.opStatus[OpCreate] = StatusSuccess
	c.mu.Unlock()
	return book, nil
}

// Update replaces the matching entry by id. A result for an id no longer
// held (e.g. removed by a concurrent fetch) is dropped silently.
func (c *Catalog) Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error) {
	c.begin(OpUpdate)
	book, err := c.gw.Update(ctx, id, patch)
	if err != nil {
		c.fail(OpUpdate, err)
		return nil, err
	}
	c.mu.Lock()
	c.loading = false
	c.replaceLocked(book)
	c.opStatus[OpUpdate] = StatusSuccess
	c.mu.Unlock()
	return book, nil
}

// UpdateProgress records the last page read, stamping lastReadAt with the
// current time.
func (c *Catalog) UpdateProgress(ctx context.Context, id string, page int) (*models.Book, error) {
	now := time.Now()
	return c.Update(ctx, id, models.BookPatch{LastReadPage: &page, LastReadAt: &now})
}

// SetPublic publishes or unpublishes a book.
func (c *Catalog) SetPublic(ctx context.Context, id string, isPublic bool) (*models.Book, error) {
	return c.Update(ctx, id, models.BookPatch{IsPublic: &isPublic})
}

// UploadCover stores a new cover image and updates the record.
func (c *Catalog) UploadCover(ctx context.Context, id string, cover *service.FileUpload) (*models.Book, error) {
	c.mu.Lock()
	c.uploadingCover = true
	c.coverProgress = 0
	c.opStatus[OpUploadCover] = StatusPending
	c.mu.Unlock()

	book, err := c.gw.UpdateCoverImage(ctx, id, cover)

	c.mu.Lock()
	c.uploadingCover = false
	if err != nil {
		c.coverProgress = 0
		c.lastError = err.Error()
		c.opStatus[OpUploadCover] = StatusError
		c.mu.Unlock()
		return nil, err
	}
	c.coverProgress = 100
	c.replaceLocked(book)
	c.opStatus[OpUploadCover] = StatusSuccess
	c.mu.Unlock()
	return book, nil
}

// Delete removes the matching entry by id once the remote delete resolves.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	c.begin(OpDelete)
	if err := c.gw.Delete(ctx, id); err != nil {
		c.fail(OpDelete, err)
		return err
	}
	c.mu.Lock()
	c.loading = false
	kept := c.books[:0]
	for _, b := range c.books {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	c.books = kept
	c.opStatus[OpDelete] = StatusSuccess
	c.mu.Unlock()
	return nil
}

func (c *Catalog) replaceLocked(book *models.Book) {
	for i := range c.books {
		if c.books[i].ID == book.ID {
			c.books[i] = *book
			return
		}
	}
}

/* resets */

// Clear drops all held state, e.g. on logout.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.books = nil
	c.publicBooks = nil
	c.lastError = ""
	c.currentReadingBook = ""
	c.opStatus = map[string]string{}
	c.mu.Unlock()
}

// ClearOperationStatus resets one operation kind to idle, or every kind when
// op is empty.
func (c *Catalog) ClearOperationStatus(op string) {
	c.mu.Lock()
	if op == "" {
		c.opStatus = map[string]string{}
	} else {
		delete(c.opStatus, op)
	}
	c.mu.Unlock()
}

// SetCurrentReadingBook remembers which book the reader has open.
func (c *Catalog) SetCurrentReadingBook(id string) {
	c.mu.Lock()
	c.currentReadingBook = id
	c.mu.Unlock()
}

/* accessors */

// Books returns a snapshot of the user's collection.
func (c *Catalog) Books() []models.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Book(nil), c.books...)
}

// PublicBooks returns a snapshot of the public subset.
func (c *Catalog) PublicBooks() []models.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Book(nil), c.publicBooks...)
}

// BookByID returns the held book with the given id, if any.
func (c *Catalog) BookByID(id string) (models.Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.books {
		if c.books[i].ID == id {
			return c.books[i], true
		}
	}
	return models.Book{}, false
}

// BooksByStatus returns the held books with the given reading status.
func (c *Catalog) BooksByStatus(status string) []models.Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Book
	for i := range c.books {
		if c.books[i].Status == status {
			out = append(out, c.books[i])
		}
	}
	return out
}

// OperationStatus reports the status of one operation kind; idle when never
// dispatched or cleared.
func (c *Catalog) OperationStatus(op string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opStatus[op]
}

// LastError returns the human-readable message of the most recent failure,
// empty when the last operation succeeded.
func (c *Catalog) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// Loading reports whether a catalog operation is in flight.
func (c *Catalog) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// CoverUploadProgress reports the cover upload progress percentage.
func (c *Catalog) CoverUploadProgress() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coverProgress
}

// CurrentReadingBook returns the id set by SetCurrentReadingBook.
func (c *Catalog) CurrentReadingBook() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentReadingBook
}
