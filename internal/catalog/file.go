package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"freightaudit/internal/ratecard"
)

// FileSource reads agreement bundles from <dir>/<agreement>.json. It is
// meant for batch runs and fixtures.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (f *FileSource) path(agreementID string) (string, error) {
	id := strings.TrimSpace(agreementID)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid agreement id %q", agreementID)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

func (f *FileSource) Bundle(_ context.Context, agreementID string) (ratecard.Bundle, error) {
	path, err := f.path(agreementID)
	if err != nil {
		return ratecard.Bundle{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ratecard.Bundle{}, fmt.Errorf("agreement %s: %w", agreementID, ErrNotFound)
	}
	if err != nil {
		return ratecard.Bundle{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var bundle ratecard.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return ratecard.Bundle{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	normalizeBundle(agreementID, &bundle)
	return bundle, nil
}

func (f *FileSource) RateCard(ctx context.Context, agreementID string) (*ratecard.RateCard, error) {
	bundle, err := f.Bundle(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if bundle.RateCard == nil {
		return nil, fmt.Errorf("rate card for %s: %w", agreementID, ErrNotFound)
	}
	return bundle.RateCard, nil
}

func (f *FileSource) Accessorials(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error) {
	bundle, err := f.Bundle(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if bundle.Accessorials == nil {
		return nil, fmt.Errorf("accessorial catalog for %s: %w", agreementID, ErrNotFound)
	}
	return bundle.Accessorials, nil
}

// Agreements lists the agreement IDs found in the directory.
func (f *FileSource) Agreements(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Import writes the bundle as pretty-printed JSON.
func (f *FileSource) Import(_ context.Context, agreementID string, bundle ratecard.Bundle) error {
	path, err := f.path(agreementID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", f.dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// normalizeBundle applies the load-time schema mapping to columns written
// by hand, which often carry only a name or are not listed at all.
func normalizeBundle(agreementID string, b *ratecard.Bundle) {
	if card := b.RateCard; card != nil {
		if card.AgreementID == "" {
			card.AgreementID = agreementID
		}
		for i, col := range card.Columns {
			mapped := ratecard.MapColumn(col.Name)
			if col.Attribute == "" {
				card.Columns[i].Attribute = mapped.Attribute
			}
			if !col.Postal {
				card.Columns[i].Postal = mapped.Postal
			}
		}
		card.Columns = card.MappedColumns()
	}
	if cat := b.Accessorials; cat != nil && cat.AgreementID == "" {
		cat.AgreementID = agreementID
	}
}
