package weights

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/listing-score-service/internal/domain"
	"github.com/couchcryptid/listing-score-service/internal/normalize"
)

// FileStore reads weights from a YAML file on every call so edits take
// effect on the next scoring pass. Entries in the file override the
// defaults:
//
//	version: "2024-05-01"
//	categories:
//	  transport: 0.30
//	criteria:
//	  transport:
//	    travel_time_airport: 0.5
type FileStore struct {
	path     string
	defaults domain.WeightSnapshot
}

// NewFileStore creates a store over path. rules decide which criteria get a
// default weight.
func NewFileStore(path string, rules []normalize.Rule) *FileStore {
	return &FileStore{path: path, defaults: Defaults(rules)}
}

func (s *FileStore) ActiveWeights(_ context.Context) (domain.WeightSnapshot, error) {
	k := koanf.New("/")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return domain.WeightSnapshot{}, fmt.Errorf("load weights %s: %w", s.path, err)
	}

	version := k.String("version")
	if version == "" {
		fi, err := os.Stat(s.path)
		if err != nil {
			return domain.WeightSnapshot{}, fmt.Errorf("stat weights %s: %w", s.path, err)
		}
		version = "file-" + strconv.FormatInt(fi.ModTime().Unix(), 10)
	}

	var bad []error
	snap := domain.WeightSnapshot{Version: version, Weights: make([]domain.CriterionWeight, 0, len(s.defaults.Weights))}
	for _, w := range s.defaults.Weights {
		path := "categories/" + string(w.Category)
		if !w.IsCategoryLevel() {
			path = "criteria/" + string(w.Category) + "/" + w.Criterion
		}
		if k.Exists(path) {
			v, err := weightAt(k, path)
			if err != nil {
				bad = append(bad, err)
			}
			w.Weight = v
		}
		w.Version = version
		snap.Weights = append(snap.Weights, w)
	}

	// Criteria only present in the file, e.g. extra reference points.
	for _, c := range domain.Categories {
		for _, criterion := range slices.Sorted(maps.Keys(k.Cut("criteria/" + string(c)).Raw())) {
			if hasCriterion(snap, c, criterion) {
				continue
			}
			v, err := weightAt(k, "criteria/"+string(c)+"/"+criterion)
			if err != nil {
				bad = append(bad, err)
			}
			snap.Weights = append(snap.Weights, domain.CriterionWeight{
				Category:  c,
				Criterion: criterion,
				Weight:    v,
				Version:   version,
			})
		}
	}
	if err := errors.Join(bad...); err != nil {
		return domain.WeightSnapshot{}, &domain.ScoringError{
			Reason: domain.InvalidWeightConfig,
			Detail: fmt.Sprintf("%s: %v", s.path, err),
		}
	}

	if unknown := unknownCategories(k); len(unknown) > 0 {
		return domain.WeightSnapshot{}, &domain.ScoringError{
			Reason: domain.InvalidWeightConfig,
			Detail: fmt.Sprintf("%s: unknown categories %v", s.path, unknown),
		}
	}
	if err := Validate(snap); err != nil {
		return domain.WeightSnapshot{}, err
	}
	return snap, nil
}

// weightAt reads a numeric weight. Non-numbers are an error, not 0.
func weightAt(k *koanf.Koanf, path string) (float64, error) {
	switch v := k.Get(path).(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s: weight must be a number, got %q", path, fmt.Sprint(v))
	}
}

func hasCriterion(s domain.WeightSnapshot, c domain.Category, criterion string) bool {
	for _, w := range s.Weights {
		if w.Category == c && w.Criterion == criterion {
			return true
		}
	}
	return false
}

func unknownCategories(k *koanf.Koanf) []string {
	var out []string
	for _, section := range []string{"categories", "criteria"} {
		for _, name := range slices.Sorted(maps.Keys(k.Cut(section).Raw())) {
			if !domain.Category(name).Valid() {
				out = append(out, name)
			}
		}
	}
	return out
}
