package scraper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scop-orders/browser"
	"github.com/aluiziolira/go-scop-orders/config"
	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/pool"
)

// fakeDriver serves canned pages by URL and records every call.
type fakeDriver struct {
	mu sync.Mutex

	pages       map[string]string
	navErrs     map[string]error
	selectorErr map[string]error
	afterSubmit string
	submitErr   error
	predicate   error
	token       string
	cookies     []browser.Cookie

	url    string
	html   string
	navs   []string
	evals  []string
	filled map[string]string
	closed bool
	shots  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:       map[string]string{},
		navErrs:     map[string]error{},
		selectorErr: map[string]error{},
		filled:      map[string]string{},
	}
}

func (d *fakeDriver) load(url string) {
	d.url = url
	d.html = d.pages[url]
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, _ browser.NavigateOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navs = append(d.navs, url)
	if err := d.navErrs[url]; err != nil {
		return err
	}
	d.load(url)
	return nil
}

func (d *fakeDriver) Fill(_ context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filled[selector] = value
	return nil
}

func (d *fakeDriver) Click(context.Context, string) error { return nil }

func (d *fakeDriver) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectorErr[selector]
}

func (d *fakeDriver) WaitForPredicate(context.Context, string, time.Duration) error {
	return d.predicate
}

func (d *fakeDriver) AwaitNavigation(ctx context.Context, trigger func(context.Context) error, _ time.Duration) error {
	if err := trigger(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.load(d.afterSubmit)
	return nil
}

func (d *fakeDriver) Evaluate(_ context.Context, script string, _ any) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evals = append(d.evals, script)
	return true, nil
}

func (d *fakeDriver) Content(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, nil
}

func (d *fakeDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *fakeDriver) Cookies(context.Context) ([]browser.Cookie, error) {
	return d.cookies, nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++
	return []byte("png"), nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) TrySolveChallenge(context.Context, time.Duration) (string, bool) {
	return d.token, d.token != ""
}

func (d *fakeDriver) navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navs...)
}

func (d *fakeDriver) countNav(prefix string) int {
	n := 0
	for _, u := range d.navigations() {
		if strings.HasPrefix(u, prefix) {
			n++
		}
	}
	return n
}

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "parser", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return string(data)
}

const listingURL = "https://portal.test/scop/listado"

func testPortal() config.Portal {
	p := config.DefaultPortal()
	p.LoginURL = "https://portal.test/seguridad/login"
	p.QueryURL = "https://portal.test/scop/consulta"
	p.DetailURL = "https://portal.test/scop/detalle"
	p.ActivationSettle = 0
	return p
}

func testTimeouts() config.Timeouts {
	return config.DefaultConfig().Timeouts
}

// listingDriver serves the query page, a listing after submit, and detail pages by code.
func listingDriver(listing string, details map[string]string) *fakeDriver {
	d := newFakeDriver()
	portal := testPortal()
	d.pages[portal.QueryURL] = "<html><body><form></form></body></html>"
	d.pages[listingURL] = listing
	d.afterSubmit = listingURL
	for code, html := range details {
		d.pages[DetailURL(portal.DetailURL, code)] = html
	}
	return d
}

func testSession(d *fakeDriver) *pool.Session {
	s := pool.NewSession(d, models.Credentials{SiteKey: "058", Username: "agent", Password: "secret"})
	s.SetState(pool.StateBusy)
	return s
}
