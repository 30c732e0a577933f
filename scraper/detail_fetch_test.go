package scraper

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scop-orders/browser"
)

func TestDetailURL(t *testing.T) {
	got := DetailURL("https://portal.test/scop/detalle", "608 25")
	want := "https://portal.test/scop/detalle?codigoAutorizacion=608+25&opc=2"
	if got != want {
		t.Fatalf("DetailURL = %q, want %q", got, want)
	}
	if got := DetailURL("https://portal.test/d?x=1", "1"); !strings.Contains(got, "?x=1&codigoAutorizacion=1") {
		t.Fatalf("existing query not preserved: %q", got)
	}
}

func TestHTTPDetailFetcherReplaysSessionCookies(t *testing.T) {
	portal := testPortal()
	transport := httpmock.NewMockTransport()

	var gotCookie, gotReferer string
	transport.RegisterResponder(http.MethodGet, DetailURL(portal.DetailURL, "60825331621"),
		func(req *http.Request) (*http.Response, error) {
			gotCookie = req.Header.Get("Cookie")
			gotReferer = req.Header.Get("Referer")
			resp := httpmock.NewStringResponse(http.StatusOK, readTestdata(t, "detail_envasado.html"))
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			return resp, nil
		})

	d := newFakeDriver()
	d.cookies = []browser.Cookie{{Name: "JSESSIONID", Value: "abc123"}, {Name: "route", Value: "n1"}}
	fetcher := NewHTTPDetailFetcher(portal, 5*time.Second, transport, nil)

	html, err := fetcher.FetchDetail(context.Background(), testSession(d), "60825331621")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(html, "Placa del Camión") {
		t.Fatalf("unexpected body")
	}
	if gotCookie != "JSESSIONID=abc123; route=n1" {
		t.Fatalf("cookie header = %q", gotCookie)
	}
	if gotReferer != portal.QueryURL {
		t.Fatalf("referer = %q", gotReferer)
	}
	if fetcher.UsesPage() {
		t.Fatalf("http fetcher must leave the page alone")
	}
	if len(d.navigations()) != 0 {
		t.Fatalf("http fetcher navigated the page")
	}
}

func TestHTTPDetailFetcherStatusError(t *testing.T) {
	portal := testPortal()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, DetailURL(portal.DetailURL, "1"), httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	fetcher := NewHTTPDetailFetcher(portal, 5*time.Second, transport, nil)
	_, err := fetcher.FetchDetail(context.Background(), testSession(newFakeDriver()), "1")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOrchestratorWithHTTPFetcherSkipsNavigateBack(t *testing.T) {
	portal := testPortal()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, DetailURL(portal.DetailURL, "60825331621"),
		httpmock.NewStringResponder(http.StatusOK, readTestdata(t, "detail_granel_simple.html")))

	d := listingDriver(readTestdata(t, "listing.html"), nil)
	fetcher := NewHTTPDetailFetcher(portal, 5*time.Second, transport, nil)
	o := NewOrchestrator(portal, testTimeouts(), OrchestratorOptions{}, fetcher, nil, nil)

	res, err := o.Run(context.Background(), testSession(d), testRequest)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rows[0].Detail == nil || len(res.Rows[0].Detail.Products) != 1 {
		t.Fatalf("expected granel detail, got %+v", res.Rows[0].Detail)
	}
	if navs := d.navigations(); len(navs) != 1 {
		t.Fatalf("expected only the query page navigation, got %v", navs)
	}
	if got := transport.GetTotalCallCount(); got != 1 {
		t.Fatalf("expected one detail request, got %d", got)
	}
}
