package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookery-app/bookery/models"
)

// fakeBackend emulates the documents and files endpoints for one collection.
type fakeBackend struct {
	mu        sync.Mutex
	docs      map[string]map[string]any
	files     map[string]bool
	requests  int32
	fileDels  []string
	failFiles map[string]bool // file ids whose delete returns 500
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		docs:      map[string]map[string]any{},
		files:     map[string]bool{},
		failFiles: map[string]bool{},
	}
}

const (
	testDB     = "db1"
	testCol    = "books"
	testBucket = "bkt1"
)

func (f *fakeBackend) handler() http.Handler {
	docsPrefix := "/databases/" + testDB + "/collections/" + testCol + "/documents"
	filesPrefix := "/storage/buckets/" + testBucket + "/files"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.requests, 1)
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == docsPrefix && r.Method == http.MethodGet:
			list := []map[string]any{}
			for _, d := range f.docs {
				list = append(list, d)
			}
			writeJSON(w, http.StatusOK, map[string]any{"total": len(list), "documents": list})

		case r.URL.Path == docsPrefix && r.Method == http.MethodPost:
			var payload struct {
				DocumentID string         `json:"documentId"`
				Data       map[string]any `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			doc := payload.Data
			doc["$id"] = payload.DocumentID
			doc["$createdAt"] = time.Now().UTC().Format(time.RFC3339)
			f.docs[payload.DocumentID] = doc
			writeJSON(w, http.StatusCreated, doc)

		case strings.HasPrefix(r.URL.Path, docsPrefix+"/"):
			id := strings.TrimPrefix(r.URL.Path, docsPrefix+"/")
			doc, ok := f.docs[id]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"message": "document not found", "code": 404})
				return
			}
			switch r.Method {
			case http.MethodGet:
				writeJSON(w, http.StatusOK, doc)
			case http.MethodPatch:
				var payload struct {
					Data map[string]any `json:"data"`
				}
				_ = json.NewDecoder(r.Body).Decode(&payload)
				for k, v := range payload.Data {
					doc[k] = v
				}
				writeJSON(w, http.StatusOK, doc)
			case http.MethodDelete:
				delete(f.docs, id)
				w.WriteHeader(http.StatusNoContent)
			}

		case r.URL.Path == filesPrefix && r.Method == http.MethodPost:
			_ = r.ParseMultipartForm(32 << 20)
			fileID := r.FormValue("fileId")
			f.files[fileID] = true
			writeJSON(w, http.StatusCreated, map[string]any{"$id": fileID})

		case strings.HasPrefix(r.URL.Path, filesPrefix+"/") && r.Method == http.MethodDelete:
			id := strings.TrimPrefix(r.URL.Path, filesPrefix+"/")
			f.fileDels = append(f.fileDels, id)
			if f.failFiles[id] {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "storage error", "code": 500})
				return
			}
			delete(f.files, id)
			w.WriteHeader(http.StatusNoContent)

		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found", "code": 404})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestBookService(t *testing.T, backend *fakeBackend) *BookService {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	return NewBookService(client, testDB, testCol, testBucket, 50)
}

func pdfUpload() *FileUpload {
	return &FileUpload{Name: "book.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF-1.4")}
}

func TestCreateDefaultsAndDerivedURLs(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	book, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, pdfUpload(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if book.IsPublic {
		t.Error("isPublic should default to false")
	}
	if book.Status != models.StatusWantToRead {
		t.Errorf("status should default to want-to-read, got %q", book.Status)
	}
	if book.PagesRead != "0" || book.TotalPages != "0" {
		t.Errorf("pages should default to \"0\", got %q/%q", book.PagesRead, book.TotalPages)
	}
	if book.PDFFileID == "" {
		t.Error("pdfFileId should be set")
	}
	if book.PDFURL == "" {
		t.Error("pdfUrl should be derived")
	}
	if book.CoverImageID != "" || book.CoverImageURL != "" {
		t.Errorf("cover reference should be empty, got id=%q url=%q", book.CoverImageID, book.CoverImageURL)
	}
	if !strings.Contains(book.PDFURL, "/storage/buckets/"+testBucket+"/files/"+book.PDFFileID+"/view") {
		t.Errorf("unexpected pdf url %q", book.PDFURL)
	}
	if !strings.Contains(book.PDFURL, "project=proj1") {
		t.Errorf("pdf url should carry the project id, got %q", book.PDFURL)
	}
}

func TestCreateRejectsNonPDFBeforeAnyNetworkCall(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	bad := &FileUpload{Name: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hi")}
	_, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, bad, nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if n := atomic.LoadInt32(&backend.requests); n != 0 {
		t.Errorf("no network call should happen before validation, got %d", n)
	}
}

func TestCreateRejectsNonImageCover(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	bad := &FileUpload{Name: "cover.pdf", ContentType: "application/pdf", Body: strings.NewReader("x")}
	_, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, pdfUpload(), bad)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if n := atomic.LoadInt32(&backend.requests); n != 0 {
		t.Errorf("no network call should happen before validation, got %d", n)
	}
}

func TestCreateRejectsOversizedUpload(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 1) // 1 MB cap

	big := &FileUpload{
		Name:        "huge.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader(strings.Repeat("x", 1<<20+1)),
	}
	_, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, big, nil)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if !strings.Contains(vErr.Message, "1 MB") {
		t.Errorf("message should name the limit, got %q", vErr.Message)
	}
	if n := atomic.LoadInt32(&backend.requests); n != 0 {
		t.Errorf("oversized file must be rejected before any network call, got %d requests", n)
	}
}

func TestUploadJustUnderCapAccepted(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 1)

	ok := &FileUpload{
		Name:        "small.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader(strings.Repeat("x", 1<<20)),
	}
	book, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, ok, nil)
	if err != nil {
		t.Fatalf("create at exactly the cap: %v", err)
	}
	if book.PDFFileID == "" {
		t.Error("pdfFileId should be set")
	}
}

func TestCreateRequiresTitleAndAuthor(t *testing.T) {
	svc := newTestBookService(t, newFakeBackend())
	for _, fields := range []models.BookFields{
		{Author: "Y"},
		{Title: "X"},
	} {
		_, err := svc.Create(context.Background(), fields, pdfUpload(), nil)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("fields %+v: want ValidationError, got %v", fields, err)
		}
	}
}

func TestUpdateStatusRoundTripKeepsOtherFields(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	created, err := svc.Create(context.Background(), models.BookFields{
		Title:      "X",
		Author:     "Y",
		TotalPages: "320",
		Rating:     4,
	}, pdfUpload(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status := models.StatusFinished
	if _, err := svc.Update(context.Background(), created.ID, models.BookPatch{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}

	books, err := svc.ListOwn(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("want 1 book, got %d", len(books))
	}
	got := books[0]
	if got.Status != models.StatusFinished {
		t.Errorf("status = %q, want finished", got.Status)
	}
	if got.Title != "X" || got.Author != "Y" || got.TotalPages != "320" || got.Rating != 4 {
		t.Errorf("other fields changed: %+v", got)
	}
}

func TestUpdateUnknownIDIsNotFound(t *testing.T) {
	svc := newTestBookService(t, newFakeBackend())
	title := "Z"
	_, err := svc.Update(context.Background(), "missing", models.BookPatch{Title: &title})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesBothFilesBestEffort(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	cover := &FileUpload{Name: "cover.jpg", ContentType: "image/jpeg", Body: strings.NewReader("img")}
	book, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, pdfUpload(), cover)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// First file delete fails; the record delete must still happen.
	backend.mu.Lock()
	backend.failFiles[book.PDFFileID] = true
	backend.mu.Unlock()

	if err := svc.Delete(context.Background(), book.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.fileDels) != 2 {
		t.Fatalf("want both file deletes attempted, got %v", backend.fileDels)
	}
	if _, ok := backend.docs[book.ID]; ok {
		t.Error("record should be deleted even when a file delete fails")
	}
}

func TestGetByIDForcePublicHidesPrivateBooks(t *testing.T) {
	backend := newFakeBackend()
	svc := newTestBookService(t, backend)

	book, err := svc.Create(context.Background(), models.BookFields{Title: "X", Author: "Y"}, pdfUpload(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetByID(context.Background(), book.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("forcePublic on private book: want ErrNotFound, got %v", err)
	}

	pub := true
	if _, err := svc.Update(context.Background(), book.ID, models.BookPatch{IsPublic: &pub}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := svc.GetByID(context.Background(), book.ID, true)
	if err != nil {
		t.Fatalf("forcePublic on public book: %v", err)
	}
	if got.ID != book.ID {
		t.Errorf("got wrong book %q", got.ID)
	}
}

func TestForcePublicSendsNoSessionCredentials(t *testing.T) {
	var sawSession atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Bookery-Session") != "" {
			sawSession.Store(true)
		}
		writeJSON(w, http.StatusOK, map[string]any{"$id": "b1", "title": "X", "author": "Y", "isPublic": true})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	client.SetSession("secret-123")
	svc := NewBookService(client, testDB, testCol, testBucket, 50)

	if _, err := svc.GetByID(context.Background(), "b1", true); err != nil {
		t.Fatalf("get: %v", err)
	}
	if sawSession.Load() {
		t.Error("forcePublic request must not carry the session header")
	}
}

func TestListByStatusRejectsUnknownStatus(t *testing.T) {
	svc := newTestBookService(t, newFakeBackend())
	_, err := svc.ListByStatus(context.Background(), "abandoned", false)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestSearchMergesTitleAndAuthorLegs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()["queries[]"]
		joined := strings.Join(q, " ")
		var docs []map[string]any
		if strings.Contains(joined, `"title"`) {
			docs = []map[string]any{
				{"$id": "b1", "title": "Go in Action", "author": "A"},
				{"$id": "b2", "title": "The Go Programming Language", "author": "B"},
			}
		} else {
			docs = []map[string]any{
				{"$id": "b2", "title": "The Go Programming Language", "author": "B"},
				{"$id": "b3", "title": "Unrelated", "author": "Go Writer"},
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": len(docs), "documents": docs})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 50)

	books, err := svc.Search(context.Background(), "Go", false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("want 2 search legs, got %d", calls.Load())
	}
	if len(books) != 3 {
		t.Fatalf("want 3 merged results, got %d: %+v", len(books), books)
	}
	if books[0].ID != "b1" || books[1].ID != "b2" || books[2].ID != "b3" {
		t.Errorf("merge order wrong: %s %s %s", books[0].ID, books[1].ID, books[2].ID)
	}
}

func TestListRecentSendsLimitAndOffset(t *testing.T) {
	var sawLimit, sawOffset atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, q := range r.URL.Query()["queries[]"] {
			if strings.Contains(q, `"limit"`) && strings.Contains(q, "5") {
				sawLimit.Store(true)
			}
			if strings.Contains(q, `"offset"`) && strings.Contains(q, "10") {
				sawOffset.Store(true)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": 0, "documents": []any{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 50)
	if _, err := svc.ListRecent(context.Background(), 5, 10, false); err != nil {
		t.Fatalf("listRecent: %v", err)
	}
	if !sawLimit.Load() {
		t.Error("limit query not sent")
	}
	if !sawOffset.Load() {
		t.Error("offset query not sent")
	}
}

func TestListRecentOmitsZeroOffset(t *testing.T) {
	var sawOffset atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, q := range r.URL.Query()["queries[]"] {
			if strings.Contains(q, `"offset"`) {
				sawOffset.Store(true)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": 0, "documents": []any{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "proj1", 5*time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 50)
	if _, err := svc.ListRecent(context.Background(), 5, 0, false); err != nil {
		t.Fatalf("listRecent: %v", err)
	}
	if sawOffset.Load() {
		t.Error("offset query should be omitted for the first page")
	}
}

func TestTransportFailureMapsToRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	client := NewClient(srv.URL, "proj1", time.Second, 1000)
	svc := NewBookService(client, testDB, testCol, testBucket, 50)
	_, err := svc.ListOwn(context.Background())
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("want ErrRemoteUnavailable, got %v", err)
	}
}
