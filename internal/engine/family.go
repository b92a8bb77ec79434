package engine

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/depwner/internal/models"
)

const (
	familyHashColumn = "MD5 Hash"
	familyDirColumn  = "Directory Name"
)

// familyInfo mirrors one element of the info.json catalogue.
type familyInfo struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	DetailedAnalysis struct {
		CVEScores           json.RawMessage `json:"cve_scores"`
		History             json.RawMessage `json:"history"`
		Origin              json.RawMessage `json:"origin"`
		Authorship          json.RawMessage `json:"authorship"`
		AffectedNations     json.RawMessage `json:"affected_nations"`
		DetectionTechniques json.RawMessage `json:"detection_techniques"`
	} `json:"detailed_analysis"`
}

// FamilyIndex maps fingerprints to curated malware families. It is read-only
// once loaded.
type FamilyIndex struct {
	families map[string]string
	info     map[string]models.FamilyMetadata
}

// LoadFamilyIndex reads the fingerprint table at hashPath and the family
// catalogue at infoPath. Either file may be missing, which yields an index
// without hits for that part.
func LoadFamilyIndex(hashPath, infoPath string, logger *logrus.Logger) (*FamilyIndex, error) {
	idx := &FamilyIndex{
		families: make(map[string]string),
		info:     make(map[string]models.FamilyMetadata),
	}

	if err := idx.loadHashes(hashPath); err != nil {
		return nil, err
	}
	if err := idx.loadInfo(infoPath); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"hashes":   len(idx.families),
		"families": len(idx.info),
	}).Info("Loaded family index")
	return idx, nil
}

func (f *FamilyIndex) loadHashes(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open family table: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read family table header: %w", err)
	}

	hashCol, dirCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case familyHashColumn:
			hashCol = i
		case familyDirColumn:
			dirCol = i
		}
	}
	if hashCol < 0 || dirCol < 0 {
		return fmt.Errorf("family table must have %q and %q columns", familyHashColumn, familyDirColumn)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading family table: %w", err)
		}
		if len(record) <= hashCol || len(record) <= dirCol {
			continue
		}
		hash := strings.ToLower(strings.TrimSpace(record[hashCol]))
		dir := strings.TrimSpace(record[dirCol])
		if hash == "" || dir == "" {
			continue
		}
		f.families[hash] = dir
	}
	return nil
}

func (f *FamilyIndex) loadInfo(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read family catalogue: %w", err)
	}

	var entries []familyInfo
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode family catalogue: %w", err)
	}
	for _, e := range entries {
		f.info[e.Name] = models.FamilyMetadata{
			FamilyName:          e.Name,
			Description:         e.Description,
			CVEScores:           e.DetailedAnalysis.CVEScores,
			History:             e.DetailedAnalysis.History,
			Origin:              e.DetailedAnalysis.Origin,
			Authorship:          e.DetailedAnalysis.Authorship,
			AffectedNations:     e.DetailedAnalysis.AffectedNations,
			DetectionTechniques: e.DetailedAnalysis.DetectionTechniques,
		}
	}
	return nil
}

// Lookup returns the family of fingerprint. A fingerprint whose family has
// no catalogue entry does not match.
func (f *FamilyIndex) Lookup(fingerprint string) (*models.FamilyMetadata, bool) {
	if f == nil {
		return nil, false
	}
	dir, ok := f.families[fingerprint]
	if !ok {
		return nil, false
	}
	meta, ok := f.info[dir]
	if !ok {
		return nil, false
	}
	return &meta, true
}

// Len returns the number of fingerprints in the index.
func (f *FamilyIndex) Len() int {
	if f == nil {
		return 0
	}
	return len(f.families)
}
