package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dvloznov/statement-pipeline/internal/detector"
	"github.com/dvloznov/statement-pipeline/internal/domain"
	"github.com/dvloznov/statement-pipeline/internal/gcsuploader"
)

// fetchFunc downloads a gs:// object.
type fetchFunc func(ctx context.Context, uri string) ([]byte, error)

// loadDocuments reads each input: a gs:// URI, a file, or a directory
// whose supported files are read in name order.
func loadDocuments(ctx context.Context, inputs []string, fetch fetchFunc) ([]domain.Document, error) {
	if fetch == nil {
		fetch = gcsuploader.FetchFromGCS
	}

	var docs []domain.Document
	for _, in := range inputs {
		if strings.HasPrefix(in, "gs://") {
			data, err := fetch(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("loadDocuments: %w", err)
			}
			docs = append(docs, domain.Document{Filename: gcsuploader.FilenameFromURI(in), Data: data})
			continue
		}

		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("loadDocuments: %w", err)
		}
		if !info.IsDir() {
			doc, err := readFile(in)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			continue
		}

		var paths []string
		err = filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && detector.Supported(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("loadDocuments: walk %s: %w", in, err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			doc, err := readFile(p)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func readFile(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("readFile: %w", err)
	}
	return domain.Document{Filename: filepath.Base(path), Data: data}, nil
}
