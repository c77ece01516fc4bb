package report

import (
	"bytes"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Veraticus/popflow/internal/common"
)

// IndexFile is the name of the generated listing.
const IndexFile = "index.html"

type indexEntry struct {
	Name string
	Href string
	Size string
}

type indexView struct {
	Title string
	Files []indexEntry
}

// WriteIndex writes dir/index.html listing every regular file below dir in
// path order. Hidden files and directories are skipped, as is the index
// itself. Links are relative unless baseURL is set.
func WriteIndex(dir, baseURL string) error {
	var files []indexEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == IndexFile {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, indexEntry{
			Name: rel,
			Href: link(baseURL, rel),
			Size: humanSize(info.Size()),
		})
		return nil
	})
	if err != nil {
		return common.NewFileSystemError("walk", dir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var buf bytes.Buffer
	view := indexView{Title: "Index of " + filepath.Base(dir), Files: files}
	if err := templates.ExecuteTemplate(&buf, "index.html.tmpl", view); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	return common.WriteFileAtomic(filepath.Join(dir, IndexFile), buf.Bytes(), 0o644)
}

func link(baseURL, rel string) string {
	if baseURL == "" {
		return rel
	}
	return strings.TrimRight(baseURL, "/") + "/" + rel
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
