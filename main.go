package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/bookery-app/bookery/config"
	"github.com/bookery-app/bookery/models"
	"github.com/bookery-app/bookery/service"
	"github.com/bookery-app/bookery/stats"
	"github.com/bookery-app/bookery/store"
	"github.com/bookery-app/bookery/utils"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bookery <command> [flags]

account:
  signup         -email -password [-name]
  login          -email -password
  logout
  whoami
  verify-send
  verify         -user -secret
  reset-request  -email
  reset-confirm  -user -secret -password

library:
  list           [-status s]
  public
  get            -id [-public]
  add            -title -author -pdf path [-cover path] [-description] [-status] [-pages n] [-total n] [-rating n] [-public]
  rm             -id
  progress       -id -page n
  publish        -id
  unpublish      -id
  cover          -id -file path
  search         -q term [-public]
  recent         [-n limit] [-offset n] [-public]
  stats`)
	os.Exit(2)
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}
	cfg.Validate()

	client := service.NewClient(cfg.Endpoint, cfg.ProjectID, cfg.HTTPTimeout, cfg.RequestsPerSec)
	sessions := service.NewSessionService(client)
	booksGW := service.NewBookService(client, cfg.DatabaseID, cfg.CollectionID, cfg.BucketID, cfg.MaxUploadMB)
	catalog := store.NewCatalog(booksGW)
	auth := store.NewAuth()

	app := &shell{
		cfg:      cfg,
		client:   client,
		sessions: sessions,
		books:    booksGW,
		catalog:  catalog,
		auth:     auth,
	}
	app.run(os.Args[1], os.Args[2:])
}

type shell struct {
	cfg      *config.Config
	client   *service.Client
	sessions *service.SessionService
	books    *service.BookService
	catalog  *store.Catalog
	auth     *store.Auth
}

func (a *shell) run(cmd string, args []string) {
	ctx := context.Background()

	// Session restore happens before anything renders; public commands
	// still restore so "whoami after login" works from any entry point.
	a.loadSession()
	a.auth.Restore(ctx, a.sessions)

	switch cmd {
	case "signup":
		a.signup(ctx, args)
	case "login":
		a.login(ctx, args)
	case "logout":
		a.sessions.Logout(ctx)
		a.auth.Logout()
		a.catalog.Clear()
		a.clearSession()
		fmt.Println("logged out")
	case "whoami":
		if u := a.auth.UserData(); u != nil {
			fmt.Printf("%s <%s> verified=%v\n", u.Name, u.Email, u.EmailVerification)
		} else {
			fmt.Println("not logged in")
		}
	case "verify-send":
		a.requireLogin()
		if err := a.sessions.SendVerificationEmail(ctx, a.cfg.VerifyURL); err != nil {
			log.Fatal(err)
		}
		fmt.Println("verification email sent")
	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		user := fs.String("user", "", "user id from the link")
		secret := fs.String("secret", "", "secret from the link")
		fs.Parse(args)
		if err := a.sessions.VerifyEmail(ctx, *user, *secret); err != nil {
			log.Fatal(err)
		}
		fmt.Println("email verified")
	case "reset-request":
		fs := flag.NewFlagSet("reset-request", flag.ExitOnError)
		email := fs.String("email", "", "account email")
		fs.Parse(args)
		if err := a.sessions.RequestPasswordReset(ctx, *email, a.cfg.ResetURL); err != nil {
			log.Fatal(err)
		}
		fmt.Println("reset email sent")
	case "reset-confirm":
		fs := flag.NewFlagSet("reset-confirm", flag.ExitOnError)
		user := fs.String("user", "", "user id from the link")
		secret := fs.String("secret", "", "secret from the link")
		password := fs.String("password", "", "new password")
		fs.Parse(args)
		if err := a.sessions.ConfirmPasswordReset(ctx, *user, *secret, *password); err != nil {
			log.Fatal(err)
		}
		fmt.Println("password updated")
	case "list":
		a.list(ctx, args)
	case "public":
		if err := a.catalog.FetchPublic(ctx); err != nil {
			log.Fatal(a.catalog.LastError())
		}
		printBooks(a.catalog.PublicBooks())
	case "get":
		a.get(ctx, args)
	case "add":
		a.add(ctx, args)
	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.String("id", "", "book id")
		fs.Parse(args)
		a.requireLogin()
		if err := a.catalog.Delete(ctx, *id); err != nil {
			log.Fatal(a.catalog.LastError())
		}
		fmt.Println("deleted", *id)
	case "progress":
		fs := flag.NewFlagSet("progress", flag.ExitOnError)
		id := fs.String("id", "", "book id")
		page := fs.Int("page", 0, "last page read")
		fs.Parse(args)
		a.requireLogin()
		book, err := a.catalog.UpdateProgress(ctx, *id, *page)
		if err != nil {
			log.Fatal(a.catalog.LastError())
		}
		fmt.Printf("%s: page %d\n", book.Title, book.LastReadPage)
	case "publish", "unpublish":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "book id")
		fs.Parse(args)
		a.requireLogin()
		book, err := a.catalog.SetPublic(ctx, *id, cmd == "publish")
		if err != nil {
			log.Fatal(a.catalog.LastError())
		}
		fmt.Printf("%s: public=%v\n", book.Title, book.IsPublic)
	case "cover":
		a.cover(ctx, args)
	case "search":
		fs := flag.NewFlagSet("search", flag.ExitOnError)
		q := fs.String("q", "", "search term")
		pub := fs.Bool("public", false, "search the public catalog only")
		fs.Parse(args)
		books, err := a.books.Search(ctx, *q, *pub)
		if err != nil {
			log.Fatal(err)
		}
		printBooks(books)
	case "recent":
		fs := flag.NewFlagSet("recent", flag.ExitOnError)
		n := fs.Int("n", 10, "how many")
		offset := fs.Int("offset", 0, "skip this many (paging)")
		pub := fs.Bool("public", false, "public catalog only")
		fs.Parse(args)
		books, err := a.books.ListRecent(ctx, *n, *offset, *pub)
		if err != nil {
			log.Fatal(err)
		}
		printBooks(books)
	case "stats":
		a.requireLogin()
		if err := a.catalog.FetchOwn(ctx); err != nil {
			log.Fatal(a.catalog.LastError())
		}
		s := stats.Compute(a.catalog.Books())
		fmt.Printf("total %d | finished %d | reading %d | want-to-read %d\n",
			s.Total, s.Finished, s.Reading, s.WantToRead)
		fmt.Printf("progress %d%% (%d/%d pages, %d books with progress)\n",
			s.ProgressPercent, s.PagesReadSum, s.TotalPagesSum, s.BooksWithProgress)
	default:
		usage()
	}
}

func (a *shell) signup(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "display name")
	fs.Parse(args)
	if _, err := a.sessions.CreateAccount(ctx, *email, *password, *name); err != nil {
		log.Fatal(err)
	}
	session, err := a.sessions.Login(ctx, *email, *password)
	if err != nil {
		log.Fatal(err)
	}
	a.saveSession(session.Secret)
	a.installToken(ctx)
	if u := a.sessions.CurrentUser(ctx); u != nil {
		a.auth.Login(u)
	}
	fmt.Println("account created; run verify-send to verify your email")
}

func (a *shell) login(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)
	session, err := a.sessions.Login(ctx, *email, *password)
	if err != nil {
		log.Fatal(err)
	}
	a.saveSession(session.Secret)
	a.installToken(ctx)
	u := a.sessions.CurrentUser(ctx)
	if u == nil {
		log.Fatal("login succeeded but account lookup failed; try again")
	}
	a.auth.Login(u)
	fmt.Printf("logged in as %s\n", u.Email)
}

func (a *shell) list(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by reading status")
	fs.Parse(args)
	a.requireLogin()
	if *status != "" {
		books, err := a.books.ListByStatus(ctx, *status, false)
		if err != nil {
			log.Fatal(err)
		}
		printBooks(books)
		return
	}
	if err := a.catalog.FetchOwn(ctx); err != nil {
		log.Fatal(a.catalog.LastError())
	}
	printBooks(a.catalog.Books())
}

func (a *shell) get(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	id := fs.String("id", "", "book id")
	pub := fs.Bool("public", false, "use the unauthenticated public read path")
	fs.Parse(args)
	book, err := a.books.GetByID(ctx, *id, *pub)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s by %s\n", book.Title, book.Author)
	fmt.Printf("  status=%s pages=%s/%s rating=%d public=%v\n",
		book.Status, book.PagesRead, book.TotalPages, book.Rating, book.IsPublic)
	if book.PDFURL != "" {
		fmt.Println("  pdf:  ", book.PDFURL)
	}
	if book.CoverImageURL != "" {
		fmt.Println("  cover:", book.CoverImageURL)
	}
}

func (a *shell) add(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "book title")
	author := fs.String("author", "", "book author")
	description := fs.String("description", "", "description")
	status := fs.String("status", "", "reading status")
	pages := fs.String("pages", "", "pages read")
	total := fs.String("total", "", "total pages")
	rating := fs.Int("rating", 0, "rating 0-5")
	public := fs.Bool("public", false, "publish to the public catalog")
	pdfPath := fs.String("pdf", "", "path to the PDF file")
	coverPath := fs.String("cover", "", "path to a cover image")
	fs.Parse(args)
	a.requireLogin()

	pdf, closePDF, err := openUpload(*pdfPath)
	if err != nil {
		log.Fatal(err)
	}
	defer closePDF()
	var cover *service.FileUpload
	if *coverPath != "" {
		var closeCover func()
		cover, closeCover, err = openUpload(*coverPath)
		if err != nil {
			log.Fatal(err)
		}
		defer closeCover()
	}

	fields := models.BookFields{
		Title:       *title,
		Author:      *author,
		Description: *description,
		Status:      *status,
		PagesRead:   *pages,
		TotalPages:  *total,
		Rating:      *rating,
		IsPublic:    *public,
	}
	book, err := a.catalog.Create(ctx, fields, pdf, cover)
	if err != nil {
		log.Fatal(a.catalog.LastError())
	}
	fmt.Printf("added %q (%s)\n", book.Title, book.ID)
}

func (a *shell) cover(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("cover", flag.ExitOnError)
	id := fs.String("id", "", "book id")
	file := fs.String("file", "", "path to the image")
	fs.Parse(args)
	a.requireLogin()
	upload, closeFn, err := openUpload(*file)
	if err != nil {
		log.Fatal(err)
	}
	defer closeFn()
	book, err := a.catalog.UploadCover(ctx, *id, upload)
	if err != nil {
		log.Fatal(a.catalog.LastError())
	}
	fmt.Printf("cover updated for %q\n", book.Title)
}

// installToken exchanges the fresh session for a short-lived API token,
// best-effort: the session secret alone is enough for every call.
func (a *shell) installToken(ctx context.Context) {
	if _, err := a.sessions.CreateJWT(ctx); err != nil {
		log.Println("api token unavailable, continuing with the session:", err)
	}
}

// requireLogin gates protected commands on a restored session.
func (a *shell) requireLogin() {
	if !a.auth.AuthChecked() || !a.auth.Status() {
		log.Fatal("not logged in; run: bookery login -email ... -password ...")
	}
}

func openUpload(path string) (*service.FileUpload, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("file path must be provided")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	return &service.FileUpload{
		Name:        filepath.Base(path),
		ContentType: ct,
		Body:        f,
	}, func() { f.Close() }, nil
}

func printBooks(books []models.Book) {
	if len(books) == 0 {
		fmt.Println("no books")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tSTATUS\tPAGES\tPUBLIC")
	for _, b := range books {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s/%s\t%v\n",
			b.ID, b.Title, b.Author, b.Status, b.PagesRead, b.TotalPages, b.IsPublic)
	}
	w.Flush()
}

/* session file */

func sessionFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bookery-session"
	}
	return filepath.Join(home, ".bookery", "session")
}

func (a *shell) loadSession() {
	data, err := os.ReadFile(sessionFilePath())
	if err != nil {
		return
	}
	secret := strings.TrimSpace(string(data))
	if len(a.cfg.SessionKey) == 32 {
		if secret, err = utils.Open(secret, a.cfg.SessionKey); err != nil {
			log.Println("session file unreadable, logging out:", err)
			a.clearSession()
			return
		}
	}
	if secret != "" {
		a.client.SetSession(secret)
	}
}

func (a *shell) saveSession(secret string) {
	if secret == "" {
		return
	}
	value := secret
	if len(a.cfg.SessionKey) == 32 {
		sealed, err := utils.Seal(secret, a.cfg.SessionKey)
		if err != nil {
			log.Println("could not seal session:", err)
			return
		}
		value = sealed
	}
	path := sessionFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		log.Println("could not create session dir:", err)
		return
	}
	if err := os.WriteFile(path, []byte(value+"\n"), 0o600); err != nil {
		log.Println("could not save session:", err)
	}
}

func (a *shell) clearSession() {
	_ = os.Remove(sessionFilePath())
}
