// Package loader reads design-time artifacts from a source, detects their
// type, parses them and assembles the unified dependency graph.
//
// A file that cannot be read or parsed is recorded as a LoadError and the
// remaining files are still loaded.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/hdbgraph/internal/artifact"
	"github.com/leapstack-labs/hdbgraph/internal/calcview"
	"github.com/leapstack-labs/hdbgraph/internal/procedure"
	"github.com/leapstack-labs/hdbgraph/internal/sqlview"
)

// Source lists and reads artifact files.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// Artifact is one loaded file. Exactly one of CalcView, View and Procedure
// is set, according to Type.
type Artifact struct {
	Path string `json:"path"`
	Type Type   `json:"type"`
	// Meta is the frontmatter of a SQL artifact, nil when there is none.
	Meta *Frontmatter `json:"meta,omitempty"`

	CalcView  *calcview.Document   `json:"calcview,omitempty"`
	View      *sqlview.View        `json:"view,omitempty"`
	Procedure *procedure.Procedure `json:"procedure,omitempty"`
}

// Name returns the artifact's object name.
func (a *Artifact) Name() string {
	switch {
	case a.CalcView != nil:
		return a.CalcView.ID
	case a.View != nil:
		return a.View.Name
	case a.Procedure != nil:
		return a.Procedure.Name
	default:
		return a.Path
	}
}

// LoadError records a file that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ErrUnrecognized is reported for a file whose type cannot be determined.
var ErrUnrecognized = errors.New("not a calculation view, view or procedure")

// Options configures a Loader.
type Options struct {
	// Concurrency bounds parallel reads; defaults to GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
}

// Loader loads artifacts from a Source.
type Loader struct {
	concurrency int
	logger      *slog.Logger
}

// New creates a Loader.
func New(opts Options) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{concurrency: opts.Concurrency, logger: opts.Logger}
}

// Load reads every supported file of src. Files are parsed concurrently
// but the result keeps the source's listing order. The returned error is
// non-nil only when listing fails or ctx is cancelled.
func (l *Loader) Load(ctx context.Context, src Source) (*Result, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	result := &Result{}
	var files []string
	for _, name := range names {
		if Supported(name) {
			files = append(files, name)
		} else {
			result.Skipped = append(result.Skipped, name)
		}
	}

	artifacts := make([]*Artifact, len(files))
	failures := make([]*LoadError, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, name := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := src.Read(gctx, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = &LoadError{Path: name, Err: err}
				return nil
			}
			a, err := LoadBytes(name, data)
			if err != nil {
				failures[i] = &LoadError{Path: name, Err: err}
				return nil
			}
			artifacts[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, name := range files {
		switch {
		case failures[i] != nil && errors.Is(failures[i].Err, ErrUnrecognized):
			l.logger.Debug("skipping unrecognized file", "path", name)
			result.Skipped = append(result.Skipped, name)
		case failures[i] != nil:
			l.logger.Warn("failed to load artifact", "path", name, "error", failures[i].Err)
			result.Errors = append(result.Errors, failures[i])
		default:
			l.logger.Debug("loaded artifact", "path", name, "type", artifacts[i].Type, "name", artifacts[i].Name())
			result.Artifacts = append(result.Artifacts, artifacts[i])
		}
	}
	return result, nil
}

// LoadBytes detects and parses a single artifact.
func LoadBytes(name string, data []byte) (*Artifact, error) {
	data, transcoded, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	text := string(data)

	a := &Artifact{Path: name, Type: Detect(name, text)}
	if a.Type == View || a.Type == Procedure || a.Type == Unknown {
		fm, err := ExtractFrontmatter(text)
		if err != nil {
			return nil, err
		}
		if fm.HasYAML {
			a.Meta = fm.Config
			text = fm.SQL
			if fm.Config.Kind != "" {
				a.Type = Type(fm.Config.Kind)
			} else if a.Type == Unknown {
				a.Type = DetectContent(text)
			}
		}
	}

	switch a.Type {
	case CalcView:
		if transcoded {
			data = dropEncodingDecl(data)
		}
		doc, err := calcview.ParseBytes(data)
		if err != nil {
			return nil, err
		}
		a.CalcView = doc
	case View:
		a.View = sqlview.Parse(withCreate(text, "VIEW"))
		if a.Meta != nil && a.Meta.Name != "" {
			a.View.Name = a.Meta.Name
		}
	case Procedure:
		a.Procedure = procedure.Parse(withCreate(text, "PROCEDURE"))
		if a.Meta != nil && a.Meta.Name != "" {
			a.Procedure.Name = a.Meta.Name
		}
	default:
		return nil, ErrUnrecognized
	}
	return a, nil
}

// Result is the outcome of a Load.
type Result struct {
	Artifacts []*Artifact
	Errors    []*LoadError
	// Skipped lists files with an unsupported extension or content.
	Skipped []string
}

// CalcViews returns the loaded calculation views in load order.
func (r *Result) CalcViews() []*calcview.Document {
	var docs []*calcview.Document
	for _, a := range r.Artifacts {
		if a.CalcView != nil {
			docs = append(docs, a.CalcView)
		}
	}
	return docs
}

// Views returns the loaded SQL views in load order.
func (r *Result) Views() []*sqlview.View {
	var views []*sqlview.View
	for _, a := range r.Artifacts {
		if a.View != nil {
			views = append(views, a.View)
		}
	}
	return views
}

// Procedures returns the loaded procedures in load order.
func (r *Result) Procedures() []*procedure.Procedure {
	var procs []*procedure.Procedure
	for _, a := range r.Artifacts {
		if a.Procedure != nil {
			procs = append(procs, a.Procedure)
		}
	}
	return procs
}

// Find returns the artifact whose name or path equals key, ignoring case.
func (r *Result) Find(key string) (*Artifact, bool) {
	for _, a := range r.Artifacts {
		if strings.EqualFold(a.Name(), key) || strings.EqualFold(a.Path, key) {
			return a, true
		}
	}
	return nil, false
}

// Graphs returns the per-type graphs in merge order: calculation views,
// then views, then procedures, then dependencies declared in frontmatter.
func (r *Result) Graphs() []*artifact.Graph {
	var graphs []*artifact.Graph
	for _, doc := range r.CalcViews() {
		graphs = append(graphs, artifact.FromCalcView(doc))
	}
	graphs = append(graphs, artifact.FromViews(r.Views()), artifact.FromProcedures(r.Procedures()))

	declared := artifact.NewGraph()
	for _, a := range r.Artifacts {
		if a.Meta == nil || len(a.Meta.DependsOn) == 0 {
			continue
		}
		kind := artifact.SQLView
		if a.Procedure != nil {
			kind = artifact.Procedure
		}
		declared.Add(a.Name(), kind, a.Meta.DependsOn)
		for _, dep := range a.Meta.DependsOn {
			if _, ok := declared.Get(dep); !ok {
				declared.Add(dep, artifact.Table, nil)
			}
		}
	}
	return append(graphs, declared)
}

// Graph merges all loaded artifacts into the unified graph.
func (r *Result) Graph() *artifact.Graph {
	return artifact.Merge(r.Graphs()...)
}

// Conflicts reports IDs defined with more than one kind across artifacts.
func (r *Result) Conflicts() []artifact.Conflict {
	return artifact.KindConflicts(r.Graphs()...)
}
