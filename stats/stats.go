// Package stats derives aggregate reading statistics from a book list.
// Everything here is pure: no clock, no I/O, no mutation of the input.
package stats

import (
	"math"

	"github.com/bookery-app/bookery/models"
)

// Stats summarizes a collection for the library dashboard.
type Stats struct {
	Total             int `json:"total"`
	Finished          int `json:"finished"`
	Reading           int `json:"reading"`
	WantToRead        int `json:"wantToRead"`
	PagesReadSum      int `json:"pagesReadSum"`
	TotalPagesSum     int `json:"totalPagesSum"`
	ProgressPercent   int `json:"progressPercent"`
	BooksWithProgress int `json:"booksWithProgress"`
}

// Compute aggregates counts by status and overall page progress.
// ProgressPercent is round(100 * pagesReadSum / totalPagesSum), or 0 when no
// pages are known; an empty input yields the zero Stats.
func Compute(books []models.Book) Stats {
	var s Stats
	s.Total = len(books)
	for i := range books {
		b := &books[i]
		switch b.Status {
		case models.StatusFinished:
			s.Finished++
		case models.StatusReading:
			s.Reading++
		case models.StatusWantToRead:
			s.WantToRead++
		}
		s.PagesReadSum += b.PagesReadInt()
		s.TotalPagesSum += b.TotalPagesInt()
		if b.LastReadPage > 0 {
			s.BooksWithProgress++
		}
	}
	if s.TotalPagesSum > 0 {
		s.ProgressPercent = int(math.Round(100 * float64(s.PagesReadSum) / float64(s.TotalPagesSum)))
	}
	return s
}
