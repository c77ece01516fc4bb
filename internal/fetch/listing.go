package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Veraticus/popflow/internal/common"
)

// List fetches an HTML directory index and returns file name -> absolute URL
// for every file link in it. Directory links (ending in "/"), the parent link,
// sort/query links and links that leave the directory are skipped.
func (c *Client) List(ctx context.Context, dirURL string) (map[string]string, error) {
	base, err := url.Parse(dirURL)
	if err != nil {
		return nil, &common.NetworkError{URL: dirURL, Err: err}
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	body, err := c.Fetch(ctx, base.String())
	if err != nil {
		return nil, err
	}

	files, err := parseListing(body, base)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func parseListing(body []byte, base *url.URL) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &common.ParseError{Source: "directory listing " + base.String(), Err: err}
	}

	files := make(map[string]string)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasSuffix(href, "/") || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host || !strings.HasPrefix(resolved.Path, base.Path) {
			return
		}
		resolved.Fragment = ""

		name := path.Base(resolved.Path)
		if name == "" || name == "." || name == "/" {
			return
		}
		files[name] = resolved.String()
	})

	if len(files) == 0 {
		return nil, &common.ParseError{Source: "directory listing " + base.String(), Err: fmt.Errorf("no file links found")}
	}
	return files, nil
}
