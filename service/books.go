package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bookery-app/bookery/models"
)

const (
	contentTypePDF = "application/pdf"
)

// FileUpload is a file handed to the gateway for storage.
type FileUpload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// BookService is the remote resource gateway: CRUD over the books collection
// and the file bucket, with public-access URLs derived at read time.
type BookService struct {
	c              *Client
	databaseID     string
	collectionID   string
	bucketID       string
	maxUploadBytes int64
}

func NewBookService(c *Client, databaseID, collectionID, bucketID string, maxUploadMB int64) *BookService {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &BookService{
		c:              c,
		databaseID:     databaseID,
		collectionID:   collectionID,
		bucketID:       bucketID,
		maxUploadBytes: maxUploadMB << 20,
	}
}

// bookDocument is the loose wire shape of a stored book. Conversion to the
// typed models.Book happens in toBook; nothing outside this package sees a
// raw document.
type bookDocument struct {
	ID           string `json:"$id"`
	CreatedAt    string `json:"$createdAt"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	PagesRead    string `json:"pagesRead"`
	TotalPages   string `json:"totalPages"`
	Rating       int    `json:"rating"`
	PDFFileID    string `json:"pdfFileId"`
	CoverImageID string `json:"coverImageId"`
	LastReadPage int    `json:"lastReadPage"`
	IsPublic     bool   `json:"isPublic"`
	LastReadAt   string `json:"lastReadAt"`
}

type documentList struct {
	Total     int            `json:"total"`
	Documents []bookDocument `json:"documents"`
}

func (s *BookService) toBook(doc *bookDocument) models.Book {
	b := models.Book{
		ID:           doc.ID,
		Title:        doc.Title,
		Author:       doc.Author,
		Description:  doc.Description,
		Status:       doc.Status,
		PagesRead:    doc.PagesRead,
		TotalPages:   doc.TotalPages,
		Rating:       doc.Rating,
		PDFFileID:    doc.PDFFileID,
		CoverImageID: doc.CoverImageID,
		LastReadPage: doc.LastReadPage,
		IsPublic:     doc.IsPublic,
	}
	if t, err := time.Parse(time.RFC3339, doc.CreatedAt); err == nil {
		b.CreatedAt = t
	}
	if doc.LastReadAt != "" {
		if t, err := time.Parse(time.RFC3339, doc.LastReadAt); err == nil {
			b.LastReadAt = &t
		}
	}
	b.CoverImageURL = s.FileViewURL(doc.CoverImageID)
	b.PDFURL = s.FileViewURL(doc.PDFFileID)
	return b
}

func (s *BookService) toBooks(docs []bookDocument) []models.Book {
	books := make([]models.Book, 0, len(docs))
	for i := range docs {
		books = append(books, s.toBook(&docs[i]))
	}
	return books
}

// FileViewURL resolves a stored file reference to a fetchable address.
// An absent reference yields an empty URL, never an error.
func (s *BookService) FileViewURL(fileID string) string {
	if fileID == "" {
		return ""
	}
	return fmt.Sprintf("%s/storage/buckets/%s/files/%s/view?project=%s",
		s.c.Endpoint(), s.bucketID, fileID, s.c.Project())
}

func (s *BookService) documentsPath() string {
	return fmt.Sprintf("/databases/%s/collections/%s/documents", s.databaseID, s.collectionID)
}

func (s *BookService) documentPath(id string) string {
	return s.documentsPath() + "/" + id
}

func (s *BookService) list(ctx context.Context, queries []string, opts ...reqOpt) ([]models.Book, error) {
	var out documentList
	if err := s.c.doJSON(ctx, http.MethodGet, s.documentsPath()+queryString(queries), nil, &out, opts...); err != nil {
		return nil, err
	}
	return s.toBooks(out.Documents), nil
}

// ListOwn returns the authenticated user's collection, newest first. The
// backend's access rules scope the result to the session owner.
func (s *BookService) ListOwn(ctx context.Context) ([]models.Book, error) {
	return s.list(ctx, []string{queryOrderDesc("$createdAt")})
}

// ListPublic returns the published subset visible to everyone.
func (s *BookService) ListPublic(ctx context.Context) ([]models.Book, error) {
	return s.list(ctx,
		[]string{queryEqual("isPublic", true), queryOrderDesc("$createdAt")},
		publicOnly())
}

// GetByID fetches one book. With forcePublic the authenticated path is
// bypassed: the request carries only the project header and a record that is
// not published reads as ErrNotFound.
func (s *BookService) GetByID(ctx context.Context, id string, forcePublic bool) (*models.Book, error) {
	if id == "" {
		return nil, validationErr("id", "must be provided")
	}
	var opts []reqOpt
	if forcePublic {
		opts = append(opts, publicOnly())
	}
	var doc bookDocument
	if err := s.c.doJSON(ctx, http.MethodGet, s.documentPath(id), nil, &doc, opts...); err != nil {
		if st := statusOf(err); st == http.StatusNotFound || st == http.StatusUnauthorized {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if forcePublic && !doc.IsPublic {
		return nil, ErrNotFound
	}
	book := s.toBook(&doc)
	return &book, nil
}

func isPDF(f *FileUpload) bool {
	if strings.HasPrefix(f.ContentType, contentTypePDF) {
		return true
	}
	return strings.EqualFold(filepath.Ext(f.Name), ".pdf")
}

func isImage(f *FileUpload) bool {
	if strings.HasPrefix(f.ContentType, "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func normalizePages(s string) string {
	if s == "" {
		return "0"
	}
	if n, err := strconv.Atoi(s); err != nil || n < 0 {
		return "0"
	}
	return s
}

func clampRating(r int) int {
	if r < 0 {
		return 0
	}
	if r > 5 {
		return 5
	}
	return r
}

// Create validates, uploads the PDF (and the cover when given), then creates
// the record with defaulted fields. Validation failures are raised before any
// network call. The file upload and the record create are two independent
// writes with no atomic rollback: if the record create fails after an upload
// succeeded, the orphaned file is left behind (known gap, matches the
// backend's eventual cleanup policy).
func (s *BookService) Create(ctx context.Context, fields models.BookFields, pdf *FileUpload, cover *FileUpload) (*models.Book, error) {
	if strings.TrimSpace(fields.Title) == "" {
		return nil, validationErr("title", "must be provided")
	}
	if strings.TrimSpace(fields.Author) == "" {
		return nil, validationErr("author", "must be provided")
	}
	if pdf == nil {
		return nil, validationErr("pdfFile", "must be provided")
	}
	if !isPDF(pdf) {
		return nil, validationErr("pdfFile", "must be a PDF file")
	}
	if cover != nil && !isImage(cover) {
		return nil, validationErr("coverFile", "must be an image file")
	}
	status := fields.Status
	if status == "" {
		status = models.StatusWantToRead
	}
	if !models.StatusValid(status) {
		return nil, validationErr("status", "must be one of "+strings.Join(models.ValidStatuses, ", "))
	}

	pdfFileID, err := s.uploadFile(ctx, pdf)
	if err != nil {
		return nil, err
	}
	coverImageID := ""
	if cover != nil {
		coverImageID, err = s.uploadFile(ctx, cover)
		if err != nil {
			return nil, err
		}
	}

	data := map[string]any{
		"title":        strings.TrimSpace(fields.Title),
		"author":       strings.TrimSpace(fields.Author),
		"description":  fields.Description,
		"status":       status,
		"pagesRead":    normalizePages(fields.PagesRead),
		"totalPages":   normalizePages(fields.TotalPages),
		"rating":       clampRating(fields.Rating),
		"pdfFileId":    pdfFileID,
		"coverImageId": coverImageID,
		"lastReadPage": 0,
		"isPublic":     fields.IsPublic,
	}
	payload := map[string]any{
		"documentId": uuid.New().String(),
		"data":       data,
	}
	var doc bookDocument
	if err := s.c.doJSON(ctx, http.MethodPost, s.documentsPath(), payload, &doc); err != nil {
		return nil, err
	}
	book := s.toBook(&doc)
	return &book, nil
}

// Update merges the given fields server-side and returns the updated record.
func (s *BookService) Update(ctx context.Context, id string, patch models.BookPatch) (*models.Book, error) {
	if id == "" {
		return nil, validationErr("id", "must be provided")
	}
	data := map[string]any{}
	if patch.Title != nil {
		data["title"] = *patch.Title
	}
	if patch.Author != nil {
		data["author"] = *patch.Author
	}
	if patch.Description != nil {
		data["description"] = *patch.Description
	}
	if patch.Status != nil {
		if !models.StatusValid(*patch.Status) {
			return nil, validationErr("status", "must be one of "+strings.Join(models.ValidStatuses, ", "))
		}
		data["status"] = *patch.Status
	}
	if patch.PagesRead != nil {
		data["pagesRead"] = normalizePages(*patch.PagesRead)
	}
	if patch.TotalPages != nil {
		data["totalPages"] = normalizePages(*patch.TotalPages)
	}
	if patch.Rating != nil {
		data["rating"] = clampRating(*patch.Rating)
	}
	if patch.CoverImageID != nil {
		data["coverImageId"] = *patch.CoverImageID
	}
	if patch.LastReadPage != nil {
		page := *patch.LastReadPage
		if page < 0 {
			page = 0
		}
		data["lastReadPage"] = page
	}
	if patch.IsPublic != nil {
		data["isPublic"] = *patch.IsPublic
	}
	if patch.LastReadAt != nil {
		data["lastReadAt"] = patch.LastReadAt.UTC().Format(time.RFC3339)
	}
	if len(data) == 0 {
		return s.GetByID(ctx, id, false)
	}
	payload := map[string]any{"data": data}
	var doc bookDocument
	if err := s.c.doJSON(ctx, http.MethodPatch, s.documentPath(id), payload, &doc); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	book := s.toBook(&doc)
	return &book, nil
}

// UpdateCoverImage uploads a new cover and points the record at it.
func (s *BookService) UpdateCoverImage(ctx context.Context, id string, cover *FileUpload) (*models.Book, error) {
	if cover == nil {
		return nil, validationErr("coverFile", "must be provided")
	}
	if !isImage(cover) {
		return nil, validationErr("coverFile", "must be an image file")
	}
	coverImageID, err := s.uploadFile(ctx, cover)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, id, models.BookPatch{CoverImageID: &coverImageID})
}

// Delete reads the record to discover its file references, removes both
// files best-effort, then deletes the record. A file that fails to delete
// does not block the record deletion.
func (s *BookService) Delete(ctx context.Context, id string) error {
	book, err := s.GetByID(ctx, id, false)
	if err != nil {
		return err
	}
	if book.PDFFileID != "" {
		if err := s.deleteFile(ctx, book.PDFFileID); err != nil {
			log.Printf("delete book %s: pdf file %s: %v", id, book.PDFFileID, err)
		}
	}
	if book.CoverImageID != "" {
		if err := s.deleteFile(ctx, book.CoverImageID); err != nil {
			log.Printf("delete book %s: cover file %s: %v", id, book.CoverImageID, err)
		}
	}
	if err := s.c.doJSON(ctx, http.MethodDelete, s.documentPath(id), nil, nil); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Search matches the query against title and author. The backend's full-text
// search covers one attribute per query, so both legs run concurrently and
// the results merge by id: title hits keep their order, author-only hits
// follow.
func (s *BookService) Search(ctx context.Context, query string, onlyPublic bool) ([]models.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationErr("query", "must be provided")
	}
	base := []string{queryOrderDesc("$createdAt")}
	var opts []reqOpt
	if onlyPublic {
		base = append(base, queryEqual("isPublic", true))
		opts = append(opts, publicOnly())
	}

	var byTitle, byAuthor []models.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		books, err := s.list(gctx, append([]string{querySearch("title", query)}, base...), opts...)
		if err != nil {
			return err
		}
		byTitle = books
		return nil
	})
	g.Go(func() error {
		books, err := s.list(gctx, append([]string{querySearch("author", query)}, base...), opts...)
		if err != nil {
			return err
		}
		byAuthor = books
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(byTitle))
	merged := make([]models.Book, 0, len(byTitle)+len(byAuthor))
	for _, b := range byTitle {
		seen[b.ID] = true
		merged = append(merged, b)
	}
	for _, b := range byAuthor {
		if !seen[b.ID] {
			merged = append(merged, b)
		}
	}
	return merged, nil
}

// ListByStatus returns books filtered by reading status.
func (s *BookService) ListByStatus(ctx context.Context, status string, onlyPublic bool) ([]models.Book, error) {
	if !models.StatusValid(status) {
		return nil, validationErr("status", "must be one of "+strings.Join(models.ValidStatuses, ", "))
	}
	queries := []string{queryEqual("status", status), queryOrderDesc("$createdAt")}
	var opts []reqOpt
	if onlyPublic {
		queries = append(queries, queryEqual("isPublic", true))
		opts = append(opts, publicOnly())
	}
	return s.list(ctx, queries, opts...)
}

// ListRecent returns the most recently added books, newest first. A positive
// offset skips that many records, so callers can page through the result.
func (s *BookService) ListRecent(ctx context.Context, limit, offset int, onlyPublic bool) ([]models.Book, error) {
	if limit <= 0 {
		limit = 10
	}
	queries := []string{queryOrderDesc("$createdAt"), queryLimit(limit)}
	if offset > 0 {
		queries = append(queries, queryOffset(offset))
	}
	var opts []reqOpt
	if onlyPublic {
		queries = append(queries, queryEqual("isPublic", true))
		opts = append(opts, publicOnly())
	}
	return s.list(ctx, queries, opts...)
}

func (s *BookService) filesPath() string {
	return fmt.Sprintf("/storage/buckets/%s/files", s.bucketID)
}

// uploadFile stores one file in the bucket under a fresh id and returns the
// file reference. Files over the configured size cap are rejected here,
// before anything goes on the wire.
func (s *BookService) uploadFile(ctx context.Context, f *FileUpload) (string, error) {
	fileID := uuid.New().String()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("fileId", fileID); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", f.Name)
	if err != nil {
		return "", err
	}
	n, err := io.Copy(part, io.LimitReader(f.Body, s.maxUploadBytes+1))
	if err != nil {
		return "", err
	}
	if n > s.maxUploadBytes {
		return "", validationErr("file",
			fmt.Sprintf("%s exceeds the %d MB upload limit", f.Name, s.maxUploadBytes>>20))
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"$id"`
	}
	err = s.c.do(ctx, http.MethodPost, s.filesPath(), &buf, &out,
		withContentType(writer.FormDataContentType()))
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		out.ID = fileID
	}
	return out.ID, nil
}

func (s *BookService) deleteFile(ctx context.Context, fileID string) error {
	err := s.c.doJSON(ctx, http.MethodDelete, s.filesPath()+"/"+fileID, nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		// Already gone; nothing to release.
		return nil
	}
	return err
}
