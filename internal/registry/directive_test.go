package registry

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func bindHTML(t *testing.T, markup string) *Registry {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := New()
	Bind(doc, reg)
	return reg
}

func TestBindRegistersURLs(t *testing.T) {
	reg := bindHTML(t,
		`<link data-register-url itemprop="home" href="https://www.ryankaskel.com">`+
			`<link data-register-url itemprop="home" href="https://www.ryankaskel.com">`+
			`<link data-register-url itemprop="about" href="https://www.ryankaskel.com/about">`)

	if got, _ := reg.Get("home"); got != "https://www.ryankaskel.com" {
		t.Errorf("home = %q", got)
	}
	if got, _ := reg.Get("about"); got != "https://www.ryankaskel.com/about" {
		t.Errorf("about = %q", got)
	}
	if reg.Size() != 2 {
		t.Fatalf("expected 2 entries, got %d", reg.Size())
	}
}

func TestBindSkipsIncompleteElements(t *testing.T) {
	reg := bindHTML(t,
		`<link data-register-url href="https://www.ryankaskel.com">`+
			`<link data-register-url itemprop="home1">`+
			`<link data-register-url itemprop="" href="https://www.ryankaskel.com">`+
			`<link data-register-url itemprop="home2" href="">`+
			`<a itemprop="unmarked" href="/unmarked">not registered</a>`)

	if reg.Size() != 0 {
		t.Fatalf("expected no entries, got %d", reg.Size())
	}
}

func TestScanReadsRootUserID(t *testing.T) {
	page := `<!doctype html><html><head>
<link register-url itemprop="todo-api" href="/todo/api">
</head><body><div data-ng-app="todoApp" data-user-id="42"></div></body></html>`

	reg := New()
	p, err := Scan(strings.NewReader(page), reg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p.UserID != "42" {
		t.Fatalf("expected user id 42, got %q", p.UserID)
	}
	if got, _ := reg.Get("todo-api"); got != "/todo/api" {
		t.Fatalf("todo-api = %q", got)
	}
}

func TestScanWithoutUserID(t *testing.T) {
	p, err := Scan(strings.NewReader(`<div ng-app="todoApp"></div>`), New())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if p.UserID != "" {
		t.Fatalf("expected empty user id, got %q", p.UserID)
	}
}
