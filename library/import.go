package library

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogEntry is one item in a catalog file.
//
//	items:
//	  - key: 978-0451524935
//	    title: "1984"
//	    author: George Orwell
//	    published_year: 1949
//	    genre: Fiction
type CatalogEntry struct {
	Key         string `yaml:"key"`
	ItemDetails `yaml:",inline"`
}

type catalogFile struct {
	Items []CatalogEntry `yaml:"items"`
}

// ReadCatalog decodes a YAML catalog. Entries without a key, title or author
// are rejected so a typo does not silently produce a blank item.
func ReadCatalog(r io.Reader) ([]CatalogEntry, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, e := range f.Items {
		if strings.TrimSpace(e.Key) == "" || strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Author) == "" {
			return nil, fmt.Errorf("catalog entry %d: key, title and author are required", i+1)
		}
	}
	return f.Items, nil
}

// ReadCatalogFile opens path (relative paths resolve from cwd) and decodes it.
func ReadCatalogFile(path string) ([]CatalogEntry, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCatalog(f)
}

// DemoCatalog returns twenty numbered sample items.
func DemoCatalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, 20)
	for i := 1; i <= 20; i++ {
		genre := "Non-Fiction"
		if i%2 == 0 {
			genre = "Fiction"
		}
		out = append(out, CatalogEntry{
			Key: fmt.Sprintf("111-22233344%02d", i),
			ItemDetails: ItemDetails{
				Title:         fmt.Sprintf("Book Title %d", i),
				Author:        fmt.Sprintf("Author %d", i),
				PublishedYear: 2000 + i,
				Genre:         genre,
			},
		})
	}
	return out
}
