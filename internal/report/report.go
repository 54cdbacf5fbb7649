// Package report renders a batch ResultSet as a self-contained HTML document.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

// ContentType is the media type of a rendered report.
const ContentType = "text/html; charset=utf-8"

const timestampLayout = "2006-01-02 15:04:05"

//go:embed report.html.tmpl
var pageSource string

var page = template.Must(template.New("report").Parse(pageSource))

// Metadata is the run context shown in the statistics block.
type Metadata struct {
	GeneratedAt   time.Time
	RetryAttempts int
	RetryCooldown time.Duration
	Workers       int
	Headless      bool
	// Duration is the run's wall time; zero omits the line.
	Duration time.Duration
}

type successView struct {
	Number int
	URL    string
	Title  string
	Image  template.URL
}

type pageView struct {
	Generated     string
	RetryAttempts int
	Cooldown      string
	Total         int
	Workers       int
	Headless      bool
	Duration      string
	Successes     []successView
	Failures      []string
}

// Render writes the report for rs to w. The output depends only on its
// inputs, so a fixed GeneratedAt yields byte-identical documents.
func Render(w io.Writer, rs screenshot.ResultSet, meta Metadata) error {
	view := pageView{
		Generated:     meta.GeneratedAt.Format(timestampLayout),
		RetryAttempts: meta.RetryAttempts,
		Cooldown:      meta.RetryCooldown.String(),
		Total:         rs.Total(),
		Workers:       meta.Workers,
		Headless:      meta.Headless,
		Failures:      rs.Failures,
	}
	if meta.Duration > 0 {
		view.Duration = meta.Duration.Round(time.Millisecond).String()
	}
	view.Successes = make([]successView, 0, len(rs.Successes))
	for i, s := range rs.Successes {
		title := s.Title
		if title == "" {
			title = "No title"
		}
		view.Successes = append(view.Successes, successView{
			Number: i + 1,
			URL:    s.URL,
			Title:  title,
			Image:  dataURI(s.Image),
		})
	}
	if err := page.Execute(w, view); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// dataURI embeds a PNG. The value is base64 we produced, never caller markup.
func dataURI(png []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)) // #nosec G203
}

// Write renders the report and stores it at path, returning the store's
// location for it.
func Write(ctx context.Context, store screenshot.BlobStore, path string, rs screenshot.ResultSet, meta Metadata) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, rs, meta); err != nil {
		return "", err
	}
	loc, err := store.PutObject(ctx, path, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return loc, nil
}
