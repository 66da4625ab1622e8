// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/maltedev/trendyol-metrics-scraper/internal/browser"
)

// Response describes what navigating to a URL yields.
type Response struct {
	Title string
	HTML  string
	// Err is returned from Navigate.
	Err error
	// Hang blocks Navigate until its context is done.
	Hang bool
	// ContentDelay slows down Page.Content.
	ContentDelay time.Duration
}

type Driver struct {
	mu        sync.Mutex
	responses map[string]Response
	fallback  *Response

	opened  int
	closed  int
	scripts int
	visited []string
}

func NewDriver() *Driver {
	return &Driver{responses: make(map[string]Response)}
}

func (d *Driver) Set(url string, r Response) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[url] = r
	return d
}

// SetDefault is used for URLs without their own response.
func (d *Driver) SetDefault(r Response) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = &r
	return d
}

func (d *Driver) NewContext(ctx context.Context) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &fakeContext{driver: d}, nil
}

func (d *Driver) Close() error { return nil }

// Stats returns how many contexts were opened and closed and how many
// init scripts were registered.
func (d *Driver) Stats() (opened, closed, scripts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed, d.scripts
}

func (d *Driver) Visited() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.visited))
	copy(out, d.visited)
	return out
}

func (d *Driver) response(url string) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visited = append(d.visited, url)
	if r, ok := d.responses[url]; ok {
		return r
	}
	if d.fallback != nil {
		return *d.fallback
	}
	return Response{Title: "Trendyol", HTML: "<html><body></body></html>"}
}

type fakeContext struct {
	driver *Driver
}

func (c *fakeContext) AddInitScript(string) error {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	c.driver.scripts++
	return nil
}

func (c *fakeContext) Navigate(ctx context.Context, url string, _ time.Duration) (browser.Page, error) {
	r := c.driver.response(url)

	if r.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &fakePage{url: url, resp: r}, nil
}

func (c *fakeContext) Close() error {
	c.driver.mu.Lock()
	defer c.driver.mu.Unlock()
	c.driver.closed++
	return nil
}

type fakePage struct {
	url  string
	resp Response
}

func (p *fakePage) URL() string            { return p.url }
func (p *fakePage) Title() (string, error) { return p.resp.Title, nil }
func (p *fakePage) Close() error           { return nil }

func (p *fakePage) Content() (string, error) {
	if p.resp.ContentDelay > 0 {
		time.Sleep(p.resp.ContentDelay)
	}
	return p.resp.HTML, nil
}
