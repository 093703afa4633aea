package justification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/govdelegate/pkg/types"
)

// ErrAlreadyExists is returned when a justification with the same content
// hash has already been archived.
var ErrAlreadyExists = errors.New("justification: already archived")

const frontMatterDelimiter = "---"

// frontMatter is the YAML header of an archived justification.
type frontMatter struct {
	ProposalID          string             `yaml:"proposal_id"`
	Choice              string             `yaml:"choice"`
	Confidence          float64            `yaml:"confidence"`
	ContentHash         string             `yaml:"content_hash"`
	Risk                types.Risk         `yaml:"risk"`
	TransparencyScore   float64            `yaml:"transparency_score"`
	PreferenceAlignment float64            `yaml:"preference_alignment"`
	SentimentSnapshot   map[string]float64 `yaml:"sentiment_snapshot,omitempty"`
	DataSources         map[string]string  `yaml:"data_sources,omitempty"`
	Summary             string             `yaml:"summary"`
	DetailedReasoning   string             `yaml:"detailed_reasoning"`
	Timestamp           time.Time          `yaml:"timestamp"`
}

// Entry is one archived justification together with its rendered report.
type Entry struct {
	Justification types.VoteJustification
	Report        string
}

// Archive is an append-only directory of justifications. Each record is a
// markdown report with YAML front matter, addressed by its content hash.
type Archive struct {
	dir string
}

// NewArchive creates the archive directory if needed.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("justification: init archive %s: %w", dir, err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

func (a *Archive) pathForHash(hash string) (string, error) {
	if hash == "" {
		return "", fmt.Errorf("justification: invalid content hash (empty)")
	}
	if strings.ContainsAny(hash, "/\\") || strings.Contains(hash, "..") {
		return "", fmt.Errorf("justification: invalid content hash %q", hash)
	}
	dir, err := filepath.Abs(a.dir)
	if err != nil {
		return "", fmt.Errorf("justification: abs dir: %w", err)
	}
	return filepath.Join(dir, hash+".md"), nil
}

// Write archives j atomically through a temporary file. Records are never
// overwritten: a second write of the same hash returns ErrAlreadyExists.
func (a *Archive) Write(_ context.Context, j types.VoteJustification) error {
	b, err := serialize(j)
	if err != nil {
		return err
	}
	path, err := a.pathForHash(j.ContentHash)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("justification: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("justification: atomic rename %s: %w", path, err)
	}
	return nil
}

// Read returns the archived entry for a content hash.
func (a *Archive) Read(_ context.Context, hash string) (*Entry, error) {
	path, err := a.pathForHash(hash)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, types.NotFound("archived justification", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("justification: read %s: %w", path, err)
	}
	return parse(b)
}

// List returns every readable entry, oldest first. Corrupt files are skipped.
func (a *Archive) List(_ context.Context) ([]*Entry, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("justification: list %s: %w", a.dir, err)
	}
	var out []*Entry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(a.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			slog.Debug("justification: skipping unreadable archive file", "path", path, "err", err)
			continue
		}
		entry, err := parse(b)
		if err != nil {
			slog.Debug("justification: skipping corrupt archive file", "path", path, "err", err)
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Justification.Timestamp.Before(out[j].Justification.Timestamp)
	})
	return out, nil
}

// FindByProposal returns the most recent archived entry for a proposal.
func (a *Archive) FindByProposal(ctx context.Context, proposalID string) (*Entry, error) {
	entries, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Justification.ProposalID == proposalID {
			return entries[i], nil
		}
	}
	return nil, types.NotFound("archived justification for proposal", proposalID)
}

func serialize(j types.VoteJustification) ([]byte, error) {
	meta := frontMatter{
		ProposalID:          j.ProposalID,
		Choice:              j.Choice,
		Confidence:          j.Confidence,
		ContentHash:         j.ContentHash,
		Risk:                j.Risk,
		TransparencyScore:   j.TransparencyScore,
		PreferenceAlignment: j.PreferenceAlignment,
		SentimentSnapshot:   j.SentimentSnapshot,
		DataSources:         j.DataSources,
		Summary:             j.Summary,
		DetailedReasoning:   j.DetailedReasoning,
		Timestamp:           j.Timestamp.UTC(),
	}
	yamlBytes, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("justification: serialize: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(Render(j))
	return []byte(sb.String()), nil
}

func parse(raw []byte) (*Entry, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return nil, fmt.Errorf("justification: missing front-matter delimiter")
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter+"\n")
	if idx == -1 {
		return nil, fmt.Errorf("justification: unclosed front-matter block")
	}
	body := strings.TrimPrefix(rest[idx+len("\n"+frontMatterDelimiter+"\n"):], "\n")

	var meta frontMatter
	if err := yaml.Unmarshal([]byte(rest[:idx]), &meta); err != nil {
		return nil, fmt.Errorf("justification: front-matter parse error: %w", err)
	}
	return &Entry{
		Justification: types.VoteJustification{
			ProposalID:          meta.ProposalID,
			Choice:              meta.Choice,
			Confidence:          meta.Confidence,
			ContentHash:         meta.ContentHash,
			Summary:             meta.Summary,
			DetailedReasoning:   meta.DetailedReasoning,
			DataSources:         meta.DataSources,
			SentimentSnapshot:   meta.SentimentSnapshot,
			PreferenceAlignment: meta.PreferenceAlignment,
			Risk:                meta.Risk,
			TransparencyScore:   meta.TransparencyScore,
			Timestamp:           meta.Timestamp,
		},
		Report: body,
	}, nil
}
